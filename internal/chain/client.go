package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

//go:generate mockgen -source=client.go -destination=../../testutil/mocks/chain/client.go -package=mock_chain

var (
	rtyAtt = retry.Attempts(uint(4))
	rtyDel = retry.Delay(time.Millisecond * 400)
	rtyErr = retry.LastErrorOnly(true)
	rtyIf  = retry.RetryIf(func(err error) bool { return !errors.Is(err, ethereum.NotFound) })
)

// EthClient is the part of *ethclient.Client the relayer uses.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*types.Receipt, error)
	Close()
}

type Config struct {
	ContractAddress common.Address
	// ChainID is checked against the node when set.
	ChainID         uint64
	Timeout         time.Duration
	HeaderCacheSize int
}

// Client reads deposits, block headers and receipts from the source chain.
type Client struct {
	eth      EthClient
	contract common.Address
	chainID  uint64
	abi      abi.ABI
	timeout  time.Duration
	logger   *zap.Logger

	// block hash -> block timestamp
	times *lru.Cache
}

// Dial connects to a source chain node. Live subscriptions need a websocket or IPC endpoint.
func Dial(ctx context.Context, addr string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial source chain node %s: %w", addr, err)
	}
	return c, nil
}

func NewClient(ctx context.Context, eth EthClient, cfg Config, logger *zap.Logger) (*Client, error) {
	parsed, err := DepositorABI()
	if err != nil {
		return nil, err
	}
	if cfg.HeaderCacheSize <= 0 {
		cfg.HeaderCacheSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	times, err := lru.New(cfg.HeaderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block time cache: %w", err)
	}

	c := &Client{
		eth:      eth,
		contract: cfg.ContractAddress,
		abi:      parsed,
		timeout:  cfg.Timeout,
		logger:   logger,
		times:    times,
	}

	var chainID *big.Int
	if err := retry.Do(func() error {
		var err error
		chainID, err = c.eth.ChainID(ctx)
		return err
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr, retry.OnRetry(func(n uint, err error) {
		logger.Info("failed to get source chain id, retrying...", zap.Uint("attempt", n), zap.Error(err))
	})); err != nil {
		return nil, fmt.Errorf("failed to get source chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("source chain id mismatch: configured %d, node reports %d", cfg.ChainID, chainID.Uint64())
	}
	c.chainID = chainID.Uint64()

	return c, nil
}

func (c *Client) ChainID() uint64 {
	return c.chainID
}

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var latest uint64
	err := c.do(ctx, "BlockNumber", func(ctx context.Context) error {
		var err error
		latest, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return latest, nil
}

// DepositsInRange returns the deposits emitted in blocks [from, to].
func (c *Client) DepositsInRange(ctx context.Context, from, to uint64) ([]relay.DepositEvent, error) {
	q := c.filterQuery()
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	var logs []types.Log
	err := c.do(ctx, "FilterLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter deposit logs of blocks [%d, %d]: %w", from, to, err)
	}

	events := make([]relay.DepositEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := c.toDeposit(ctx, l)
		if errors.Is(err, errMalformedLog) {
			c.logger.Error("skipping malformed deposit log",
				zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", l.Index), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// SubscribeDeposits streams deposits of new blocks into sink. Removed logs are forwarded with
// Removed set.
func (c *Client) SubscribeDeposits(ctx context.Context, sink chan<- relay.DepositEvent) (relay.Subscription, error) {
	logs := make(chan types.Log, cap(sink))
	sub, err := c.eth.SubscribeFilterLogs(ctx, c.filterQuery(), logs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to deposit logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case l := <-logs:
				ev, err := c.toDeposit(ctx, l)
				if errors.Is(err, errMalformedLog) {
					c.logger.Error("skipping malformed deposit log",
						zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", l.Index), zap.Error(err))
					continue
				}
				if err != nil {
					return err
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.do(ctx, "TransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, txHash)
		return err
	})
	return receipt, err
}

func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error) {
	var header *types.Header
	err := c.do(ctx, "HeaderByHash", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByHash(ctx, hash)
		return err
	})
	if err == nil {
		c.times.Add(hash, header.Time)
	}
	return header, err
}

func (c *Client) BlockReceipts(ctx context.Context, blockHash common.Hash) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	err := c.do(ctx, "BlockReceipts", func(ctx context.Context) error {
		var err error
		receipts, err = c.eth.BlockReceipts(ctx, rpc.BlockNumberOrHashWithHash(blockHash, true))
		return err
	})
	return receipts, err
}

func (c *Client) Close() {
	c.eth.Close()
}

var errMalformedLog = errors.New("malformed deposit log")

func (c *Client) toDeposit(ctx context.Context, l types.Log) (relay.DepositEvent, error) {
	decoded, err := decodeDepositLog(c.abi, l)
	if err != nil {
		return relay.DepositEvent{}, fmt.Errorf("%w: %w", errMalformedLog, err)
	}

	ev := relay.DepositEvent{
		ID: relay.DepositID{
			ChainID:  c.chainID,
			TxHash:   l.TxHash,
			LogIndex: l.Index,
		},
		Depositor:   decoded.Depositor,
		Amount:      decoded.Amount,
		Recipient:   decoded.Recipient,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		Removed:     l.Removed,
	}
	if l.Removed {
		return ev, nil
	}

	ts, err := c.blockTime(ctx, l.BlockHash)
	if err != nil {
		return relay.DepositEvent{}, fmt.Errorf("failed to get timestamp of block %s: %w", l.BlockHash.Hex(), err)
	}
	ev.BlockTimestamp = ts
	return ev, nil
}

func (c *Client) blockTime(ctx context.Context, hash common.Hash) (uint64, error) {
	if ts, ok := c.times.Get(hash); ok {
		return ts.(uint64), nil
	}
	header, err := c.HeaderByHash(ctx, hash)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

func (c *Client) filterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{c.abi.Events[depositEventName].ID}},
	}
}

// do runs a node call with a per-attempt timeout and bounded retries. ethereum.NotFound is
// returned at once.
func (c *Client) do(ctx context.Context, method string, call func(ctx context.Context) error) error {
	start := time.Now()
	err := retry.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return call(callCtx)
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr, rtyIf, retry.OnRetry(func(n uint, err error) {
		c.logger.Debug("source chain call failed, retrying...",
			zap.String("method", method), zap.Uint("attempt", n), zap.Error(err))
	}))
	metrics.RecordActionDuration(method, err == nil, time.Since(start).Seconds())
	return err
}
