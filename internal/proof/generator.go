package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

//go:generate mockgen -source=generator.go -destination=../../testutil/mocks/proof/mocks.go -package=mock_proof

// ReceiptSource is the part of the source chain client the generator reads from.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	BlockReceipts(ctx context.Context, blockHash common.Hash) ([]*types.Receipt, error)
}

// Generator builds receipt inclusion proofs from source chain data.
type Generator struct {
	source ReceiptSource
	logger *zap.Logger
}

func NewGenerator(source ReceiptSource, logger *zap.Logger) *Generator {
	return &Generator{source: source, logger: logger}
}

// Generate returns the rlp-v1 encoded inclusion proof of the receipt of txHash.
func (g *Generator) Generate(ctx context.Context, txHash common.Hash) ([]byte, error) {
	start := time.Now()

	p, err := g.Build(ctx, txHash)
	if err != nil {
		metrics.AddFailedProof(time.Since(start).Seconds())
		return nil, err
	}

	data, err := p.Encode()
	if err != nil {
		metrics.AddFailedProof(time.Since(start).Seconds())
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable, err)
	}
	if _, _, err := VerifyEncoded(data); err != nil {
		metrics.AddFailedProof(time.Since(start).Seconds())
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("encoded proof does not verify: %w", err))
	}

	metrics.AddSuccessProof(time.Since(start).Seconds())
	g.logger.Debug("built receipt proof",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("block_hash", p.BlockHash.Hex()),
		zap.Uint64("tx_index", p.TxIndex),
		zap.Int("branch_len", len(p.Branch)),
		zap.Int("size", len(data)))
	return data, nil
}

// Build fetches the receipt, its block header and the block's receipts, rebuilds the receipt
// trie and proves the receipt's key against the header's receipts root.
func (g *Generator) Build(ctx context.Context, txHash common.Hash) (*ReceiptProof, error) {
	receipt, err := g.source.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, sourceError(fmt.Errorf("failed to get receipt of %s: %w", txHash.Hex(), err))
	}
	if receipt == nil {
		return nil, relay.NewProofError(relay.ErrorKindProofDataMissing,
			fmt.Errorf("no receipt for %s", txHash.Hex()))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, relay.NewProofError(relay.ErrorKindProofDataMissing,
			fmt.Errorf("transaction %s did not succeed", txHash.Hex()))
	}

	header, err := g.source.HeaderByHash(ctx, receipt.BlockHash)
	if err != nil {
		return nil, sourceError(fmt.Errorf("failed to get header %s: %w", receipt.BlockHash.Hex(), err))
	}
	if header.Hash() != receipt.BlockHash {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("header hash %s does not match block hash %s", header.Hash().Hex(), receipt.BlockHash.Hex()))
	}

	receipts, err := g.source.BlockReceipts(ctx, receipt.BlockHash)
	if err != nil {
		return nil, sourceError(fmt.Errorf("failed to get receipts of block %s: %w", receipt.BlockHash.Hex(), err))
	}
	txIndex := uint64(receipt.TransactionIndex)
	if txIndex >= uint64(len(receipts)) {
		return nil, relay.NewProofError(relay.ErrorKindProofDataMissing,
			fmt.Errorf("block %s has %d receipts, tx index is %d", receipt.BlockHash.Hex(), len(receipts), txIndex))
	}

	tr, err := receiptTrie(receipts)
	if err != nil {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable, err)
	}
	if root := tr.Hash(); root != header.ReceiptHash {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("receipts root %s does not match header receipts root %s", root.Hex(), header.ReceiptHash.Hex()))
	}

	branch := &nodeList{}
	if err := tr.Prove(receiptKey(txIndex), branch); err != nil {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("failed to prove receipt %d: %w", txIndex, err))
	}
	if len(*branch) == 0 {
		return nil, relay.NewProofError(relay.ErrorKindProofDataMissing,
			fmt.Errorf("empty branch for receipt %d", txIndex))
	}

	headerRLP, err := rlp.EncodeToBytes(header)
	if err != nil {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("failed to encode header: %w", err))
	}

	p := &ReceiptProof{
		Header:       headerRLP,
		Branch:       *branch,
		TxIndex:      txIndex,
		BlockHash:    receipt.BlockHash,
		ReceiptsRoot: header.ReceiptHash,
	}

	proven, err := p.Verify()
	if err != nil {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable, err)
	}
	var want bytes.Buffer
	types.Receipts(receipts).EncodeIndex(int(txIndex), &want)
	if !bytes.Equal(proven, want.Bytes()) {
		return nil, relay.NewProofError(relay.ErrorKindProofSourceUnavailable,
			fmt.Errorf("proven receipt differs from receipt %d", txIndex))
	}

	return p, nil
}

func receiptTrie(receipts []*types.Receipt) (*trie.Trie, error) {
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	list := types.Receipts(receipts)

	var buf bytes.Buffer
	for i := range list {
		buf.Reset()
		list.EncodeIndex(i, &buf)
		if err := tr.Update(receiptKey(uint64(i)), common.CopyBytes(buf.Bytes())); err != nil {
			return nil, fmt.Errorf("failed to insert receipt %d: %w", i, err)
		}
	}
	return tr, nil
}

func sourceError(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return relay.NewProofError(relay.ErrorKindProofDataMissing, err)
	}
	return relay.NewProofError(relay.ErrorKindProofSourceUnavailable, err)
}

// nodeList collects proof nodes in the order the trie emits them, root first.
type nodeList [][]byte

func (n *nodeList) Put(key []byte, value []byte) error {
	*n = append(*n, common.CopyBytes(value))
	return nil
}

func (n *nodeList) Delete(key []byte) error {
	return errors.New("proof node list is append only")
}
