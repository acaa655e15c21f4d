package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/registry"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const (
	sourceLive     = "live"
	sourceBackfill = "backfill"
)

// Enqueuer accepts deposits for relaying.
type Enqueuer interface {
	Enqueue(event relay.DepositEvent, requiredSlot uint64) (bool, error)
}

type SlotClock interface {
	SlotFor(timestamp uint64) (uint64, error)
}

// CursorStore persists the last source block whose deposits are all enqueued.
type CursorStore interface {
	GetLastProcessedBlock() (uint64, bool, error)
	SetLastProcessedBlock(block uint64) error
}

type SubscriberConfig struct {
	// BackfillBlocks bounds how far back a (re)connect looks for missed deposits.
	BackfillBlocks    uint64
	BackfillBatchSize uint64
	SeenCacheSize     int
	FeedCapacity      int

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	Registry *registry.Registry
}

// Subscriber watches the source chain for deposit events, computes each deposit's required
// slot and hands it to the relay queue. Live events and backfilled ranges may overlap; the
// queue ignores identities it already has.
type Subscriber struct {
	source relay.EventSource
	queue  Enqueuer
	clock  SlotClock
	cursor CursorStore
	cfg    SubscriberConfig
	logger *zap.Logger

	seen      *lru.Cache
	lastBlock uint64
	hasCursor bool
}

// NewSubscriber creates a new Subscriber instance ready to subscribe on the source chain's
// deposit events.
func NewSubscriber(
	cfg SubscriberConfig,
	source relay.EventSource,
	queue Enqueuer,
	clock SlotClock,
	cursor CursorStore,
	logger *zap.Logger,
) (*Subscriber, error) {
	if cfg.BackfillBatchSize == 0 {
		cfg.BackfillBatchSize = 1000
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = 4096
	}
	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = 256
	}

	seen, err := lru.New(cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen deposits cache: %w", err)
	}

	return &Subscriber{
		source: source,
		queue:  queue,
		clock:  clock,
		cursor: cursor,
		cfg:    cfg,
		logger: logger,
		seen:   seen,
	}, nil
}

// Subscribe runs until ctx is done. Every time the live subscription is (re)established the
// gap since the last processed block is backfilled.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if s.cfg.ReconnectInitialInterval > 0 {
		b.InitialInterval = s.cfg.ReconnectInitialInterval
	}
	if s.cfg.ReconnectMaxInterval > 0 {
		b.MaxInterval = s.cfg.ReconnectMaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		connected, err := s.watch(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Context cancelled, shutting down deposit subscriber...")
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		metrics.IncReconnects("deposits")
		s.logger.Warn("deposit subscription failed, reconnecting",
			zap.Error(err), zap.Duration("in", wait), zap.Uint64("last_processed_block", s.lastBlock))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) watch(ctx context.Context) (bool, error) {
	// Subscribe before backfilling so no block falls between the two.
	sink := make(chan relay.DepositEvent, s.cfg.FeedCapacity)
	sub, err := s.source.SubscribeDeposits(ctx, sink)
	if err != nil {
		return false, fmt.Errorf("failed to subscribe to deposits: %w", err)
	}
	defer sub.Unsubscribe()

	if err := s.Backfill(ctx); err != nil {
		return false, fmt.Errorf("failed to backfill: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			if derr := s.drain(sink); derr != nil {
				return true, derr
			}
			if err == nil {
				err = fmt.Errorf("deposit subscription closed")
			}
			return true, err
		case ev := <-sink:
			if err := s.processLiveEvent(ev); err != nil {
				return true, err
			}
		}
	}
}

// Backfill enqueues the deposits of the blocks since the last processed block, looking back
// at most BackfillBlocks blocks.
func (s *Subscriber) Backfill(ctx context.Context) error {
	if s.cfg.BackfillBlocks == 0 {
		return nil
	}

	latest, err := s.source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}

	var from uint64
	if latest+1 > s.cfg.BackfillBlocks {
		from = latest + 1 - s.cfg.BackfillBlocks
	}

	if !s.hasCursor {
		cursor, found, err := s.cursor.GetLastProcessedBlock()
		if err != nil {
			return fmt.Errorf("failed to get last processed block: %w", err)
		}
		if found {
			s.lastBlock, s.hasCursor = cursor, true
		}
	}
	if s.hasCursor && s.lastBlock+1 > from {
		from = s.lastBlock + 1
	}
	if from > latest {
		return nil
	}

	s.logger.Info("backfilling deposits", zap.Uint64("from", from), zap.Uint64("to", latest))
	for start := from; start <= latest; start += s.cfg.BackfillBatchSize {
		end := start + s.cfg.BackfillBatchSize - 1
		if end > latest {
			end = latest
		}

		events, err := s.source.DepositsInRange(ctx, start, end)
		if err != nil {
			return fmt.Errorf("failed to get deposits of blocks [%d, %d]: %w", start, end, err)
		}
		for _, ev := range events {
			if err := s.process(ev, sourceBackfill); err != nil {
				return err
			}
		}
		s.advanceCursor(end)
	}

	return nil
}

func (s *Subscriber) processLiveEvent(ev relay.DepositEvent) error {
	if err := s.process(ev, sourceLive); err != nil {
		return err
	}
	// Logs arrive in block order, so every earlier block is complete.
	if ev.BlockNumber > 0 {
		s.advanceCursor(ev.BlockNumber - 1)
	}
	return nil
}

func (s *Subscriber) process(ev relay.DepositEvent, source string) error {
	id := ev.ID.String()
	if ev.Removed {
		s.logger.Warn("ignoring deposit log removed by a reorg",
			zap.String("id", id), zap.Uint64("block", ev.BlockNumber))
		return nil
	}

	metrics.IncEventsObserved(source)
	if s.seen.Contains(id) {
		return nil
	}

	if s.cfg.Registry != nil && !s.cfg.Registry.Allows(ev) {
		s.logger.Debug("skipping deposit not in the watch list",
			zap.String("id", id), zap.String("depositor", ev.Depositor.Hex()))
		s.seen.Add(id, struct{}{})
		return nil
	}

	slot, err := s.clock.SlotFor(ev.BlockTimestamp)
	if err != nil {
		s.logger.Error("failed to compute required slot, skipping deposit",
			zap.String("id", id), zap.Uint64("block_timestamp", ev.BlockTimestamp), zap.Error(err))
		return nil
	}

	created, err := s.queue.Enqueue(ev, slot)
	if err != nil {
		return fmt.Errorf("failed to enqueue deposit %s: %w", id, err)
	}
	s.seen.Add(id, struct{}{})

	if !created {
		s.logger.Debug("deposit already known", zap.String("id", id), zap.String("source", source))
	}
	return nil
}

func (s *Subscriber) advanceCursor(block uint64) {
	if s.hasCursor && block <= s.lastBlock {
		return
	}
	if err := s.cursor.SetLastProcessedBlock(block); err != nil {
		s.logger.Error("failed to persist last processed block", zap.Uint64("block", block), zap.Error(err))
		return
	}
	s.lastBlock, s.hasCursor = block, true
	metrics.SetLastProcessedBlock(block)
}

func (s *Subscriber) drain(sink <-chan relay.DepositEvent) error {
	for {
		select {
		case ev := <-sink:
			if err := s.processLiveEvent(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
