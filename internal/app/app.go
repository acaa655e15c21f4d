package app

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	nlogger "github.com/neutron-org/neutron-logger"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/chain"
	"github.com/neutron-org/deposit-relayer/internal/checkpoint"
	"github.com/neutron-org/deposit-relayer/internal/config"
	"github.com/neutron-org/deposit-relayer/internal/destination"
	"github.com/neutron-org/deposit-relayer/internal/dispatcher"
	relayhttp "github.com/neutron-org/deposit-relayer/internal/http"
	"github.com/neutron-org/deposit-relayer/internal/queue"
	"github.com/neutron-org/deposit-relayer/internal/registry"
	"github.com/neutron-org/deposit-relayer/internal/relay"
	"github.com/neutron-org/deposit-relayer/internal/slotclock"
	"github.com/neutron-org/deposit-relayer/internal/storage"
	"github.com/neutron-org/deposit-relayer/internal/subscriber"
)

var (
	Version = ""
	Commit  = ""
)

const (
	AppContext               = "app"
	SubscriberContext        = "subscriber"
	CheckpointTrackerContext = "checkpoint_tracker"
	QueueContext             = "queue"
	DispatcherContext        = "dispatcher"
	ProofGeneratorContext    = "proof_generator"
	SourceChainContext       = "source_chain"
	DestinationContext       = "destination_gateway"
)

// LogContexts lists every logger context the relayer uses.
func LogContexts() []string {
	return []string{
		AppContext,
		SubscriberContext,
		CheckpointTrackerContext,
		QueueContext,
		DispatcherContext,
		ProofGeneratorContext,
		SourceChainContext,
		DestinationContext,
		relayhttp.ServerContext,
		relayhttp.MonitoringLoggerContext,
	}
}

// retries configuration for connecting to the source node and the destination gateway
var (
	rtyAtt = retry.Attempts(uint(5))
	rtyDel = retry.Delay(time.Second * 10)
	rtyErr = retry.LastErrorOnly(true)
)

func NewDefaultStorage(cfg config.RelayerConfig, logger *zap.Logger) (relay.Storage, error) {
	leveldbStorage, err := storage.NewLevelDBStorage(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create NewLevelDBStorage: %w", err)
	}
	logger.Info("opened storage", zap.String("path", cfg.StoragePath))

	return leveldbStorage, nil
}

// NewDefaultRelayService returns a relay service wired to the real source node and destination
// gateway held by deps.
func NewDefaultRelayService(
	cfg config.RelayerConfig,
	logRegistry *nlogger.Registry,
	storage relay.Storage,
	deps *DependencyContainer,
) (*RelayService, error) {
	return NewRelayService(cfg, logRegistry, Collaborators{
		Storage:     storage,
		Source:      deps.GetSourceClient(),
		Checkpoints: deps.GetDestinationClient(),
		Proofs:      deps.GetProofGenerator(),
		Redirector:  deps.GetDestinationClient(),
		Clock:       deps.GetSlotClock(),
	})
}

func newQueue(cfg config.RelayerConfig, logRegistry *nlogger.Registry, storage relay.Storage, finality relay.FinalityChecker) (*queue.Queue, error) {
	q, err := queue.NewQueue(storage, finality, queue.Config{
		MaxAttempts:            cfg.Queue.MaxAttempts,
		MaxDataMissingAttempts: cfg.Queue.MaxDataMissingAttempts,
		RetryInitialInterval:   cfg.Queue.RetryInitialInterval,
		RetryMaxInterval:       cfg.Queue.RetryMaxInterval,
		Route:                  cfg.Destination.Route,
	}, logRegistry.Get(QueueContext))
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	return q, nil
}

func newTracker(cfg config.RelayerConfig, logRegistry *nlogger.Registry, source relay.CheckpointSource, storage relay.Storage) *checkpoint.Tracker {
	return checkpoint.NewTracker(source, storage, checkpoint.Config{
		ReconnectInitialInterval: cfg.Destination.ReconnectInitialInterval,
		ReconnectMaxInterval:     cfg.Destination.ReconnectMaxInterval,
		FeedCapacity:             cfg.Destination.FeedCapacity,
	}, logRegistry.Get(CheckpointTrackerContext))
}

func newSubscriber(
	cfg config.RelayerConfig,
	logRegistry *nlogger.Registry,
	source relay.EventSource,
	q *queue.Queue,
	clock *slotclock.SlotClock,
	storage relay.Storage,
) (*subscriber.Subscriber, error) {
	var reg *registry.Registry
	if len(cfg.Registry.Depositors) > 0 || len(cfg.Registry.Recipients) > 0 {
		reg = registry.New(&registry.RegistryConfig{
			Depositors: cfg.Registry.Depositors,
			Recipients: cfg.Registry.Recipients,
		})
	}

	s, err := subscriber.NewSubscriber(subscriber.SubscriberConfig{
		BackfillBlocks:           cfg.Source.BackfillBlocks,
		BackfillBatchSize:        cfg.Source.BackfillBatchSize,
		SeenCacheSize:            cfg.Source.SeenCacheSize,
		FeedCapacity:             cfg.Source.FeedCapacity,
		ReconnectInitialInterval: cfg.Source.ReconnectInitialInterval,
		ReconnectMaxInterval:     cfg.Source.ReconnectMaxInterval,
		Registry:                 reg,
	}, source, q, clock, storage, logRegistry.Get(SubscriberContext))
	if err != nil {
		return nil, fmt.Errorf("failed to create a NewSubscriber: %w", err)
	}
	return s, nil
}

func newDispatcher(
	cfg config.RelayerConfig,
	logRegistry *nlogger.Registry,
	q *queue.Queue,
	tracker *checkpoint.Tracker,
	proofs relay.ProofGenerator,
	redirector relay.Redirector,
) *dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(q, tracker, proofs, redirector, dispatcher.Config{
		ProofWorkers:    cfg.Dispatcher.ProofWorkers,
		DispatchWorkers: cfg.Dispatcher.DispatchWorkers,
		Program:         cfg.Destination.Program,
		RateLimit:       cfg.Dispatcher.RateLimit,
		RateBurst:       cfg.Dispatcher.RateBurst,
		GracePeriod:     cfg.ShutdownGracePeriod,
		MinScanInterval: cfg.Dispatcher.MinScanInterval,
	}, logRegistry.Get(DispatcherContext))
}

func dialSource(ctx context.Context, cfg config.RelayerConfig, logRegistry *nlogger.Registry) (*chain.Client, error) {
	logger := logRegistry.Get(SourceChainContext)

	var client *chain.Client
	if err := retry.Do(func() error {
		eth, err := chain.Dial(ctx, cfg.Source.RPCAddr)
		if err != nil {
			return err
		}
		client, err = chain.NewClient(ctx, eth, chain.Config{
			ContractAddress: common.HexToAddress(cfg.Source.ContractAddress),
			ChainID:         cfg.Source.ChainID,
			Timeout:         cfg.Source.Timeout,
			HeaderCacheSize: cfg.Source.HeaderCacheSize,
		}, logger)
		if err != nil {
			eth.Close()
			return err
		}
		return nil
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr, retry.OnRetry(func(n uint, err error) {
		logger.Info("failed to connect to source chain node", zap.Uint("attempt", n), zap.Error(err))
	})); err != nil {
		return nil, err
	}

	logger.Info("connected to source chain",
		zap.Uint64("chain_id", client.ChainID()),
		zap.String("contract", cfg.Source.ContractAddress))
	return client, nil
}

func dialDestination(ctx context.Context, cfg config.RelayerConfig, logRegistry *nlogger.Registry) (*destination.Client, error) {
	logger := logRegistry.Get(DestinationContext)

	var client *destination.Client
	if err := retry.Do(func() error {
		rpcClient, err := destination.Dial(ctx, cfg.Destination.RPCAddr)
		if err != nil {
			return err
		}
		client = destination.NewClient(rpcClient, destination.Config{Timeout: cfg.Destination.Timeout}, logger)
		return nil
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr, retry.OnRetry(func(n uint, err error) {
		logger.Info("failed to connect to destination gateway", zap.Uint("attempt", n), zap.Error(err))
	})); err != nil {
		return nil, err
	}

	logger.Info("connected to destination gateway", zap.String("program", cfg.Destination.Program))
	return client, nil
}
