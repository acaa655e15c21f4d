package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// SlotStore persists the highest slot so a restart does not have to wait for the next
// announcement.
type SlotStore interface {
	GetLastCheckpointSlot() (uint64, bool, error)
	SetLastCheckpointSlot(slot uint64) error
}

type Config struct {
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
	// FeedCapacity is the buffer size of the announcements channel.
	FeedCapacity int
}

// Tracker keeps the highest finalized slot announced by the destination. The slot never goes
// down, and subscribers are only called when it goes up.
type Tracker struct {
	source relay.CheckpointSource
	store  SlotStore
	cfg    Config
	logger *zap.Logger

	mu          sync.RWMutex
	current     relay.Checkpoint
	known       bool
	subscribers map[uint64]func(relay.Checkpoint)
	nextSubID   uint64

	// persistMu orders writes to store; persisted is the highest slot written.
	persistMu sync.Mutex
	persisted uint64
}

func NewTracker(source relay.CheckpointSource, store SlotStore, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = 16
	}
	return &Tracker{
		source:      source,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[uint64]func(relay.Checkpoint)),
	}
}

// Seed warms the tracker up from the persisted slot and the destination's latest checkpoint.
func (t *Tracker) Seed(ctx context.Context) error {
	if t.store != nil {
		slot, found, err := t.store.GetLastCheckpointSlot()
		if err != nil {
			return fmt.Errorf("failed to get last checkpoint slot: %w", err)
		}
		if found {
			t.Observe(relay.Checkpoint{Slot: slot})
		}
	}

	latest, err := t.source.LatestCheckpoint(ctx)
	if err != nil {
		t.logger.Warn("failed to get latest checkpoint, waiting for the feed", zap.Error(err))
		return nil
	}
	t.Observe(latest)
	return nil
}

// Observe applies an announcement. It returns true if the current slot advanced.
func (t *Tracker) Observe(cp relay.Checkpoint) bool {
	t.mu.Lock()
	if t.known && cp.Slot <= t.current.Slot {
		// A slot restored from storage has no root until the feed repeats it.
		if cp.Slot == t.current.Slot && t.current.Root == (common.Hash{}) {
			t.current.Root = cp.Root
		}
		t.mu.Unlock()
		return false
	}
	t.known = true
	t.current = cp
	subs := make([]func(relay.Checkpoint), 0, len(t.subscribers))
	for _, cb := range t.subscribers {
		subs = append(subs, cb)
	}
	t.mu.Unlock()

	metrics.SetCheckpointSlot(cp.Slot)
	t.logger.Debug("checkpoint advanced", zap.Uint64("slot", cp.Slot), zap.String("root", cp.Root.Hex()))

	t.persist(cp.Slot)

	for _, cb := range subs {
		cb(cp)
	}
	return true
}

// persist writes slot unless a concurrent Observe already wrote a higher one.
func (t *Tracker) persist(slot uint64) {
	if t.store == nil {
		return
	}

	t.persistMu.Lock()
	defer t.persistMu.Unlock()
	if slot <= t.persisted {
		return
	}
	if err := t.store.SetLastCheckpointSlot(slot); err != nil {
		t.logger.Error("failed to persist checkpoint slot", zap.Uint64("slot", slot), zap.Error(err))
		return
	}
	t.persisted = slot
}

func (t *Tracker) IsFinalized(slot uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.known && slot <= t.current.Slot
}

func (t *Tracker) CurrentSlot() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current.Slot
}

func (t *Tracker) Latest() relay.Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current
}

// OnAdvance registers a callback run after every advance. Callbacks must not block. The
// returned function unsubscribes.
func (t *Tracker) OnAdvance(cb func(relay.Checkpoint)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = cb

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

// Run consumes the checkpoint feed until ctx is done, reconnecting with exponential backoff.
// The last known checkpoint keeps being served while disconnected.
func (t *Tracker) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	if t.cfg.ReconnectInitialInterval > 0 {
		b.InitialInterval = t.cfg.ReconnectInitialInterval
	}
	if t.cfg.ReconnectMaxInterval > 0 {
		b.MaxInterval = t.cfg.ReconnectMaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		connected, err := t.consume(ctx)
		if ctx.Err() != nil {
			t.logger.Info("Context cancelled, shutting down checkpoint tracker...")
			return nil
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		metrics.IncReconnects("checkpoints")
		t.logger.Warn("checkpoint feed disconnected, reconnecting",
			zap.Error(err), zap.Duration("in", wait), zap.Uint64("current_slot", t.CurrentSlot()))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (t *Tracker) consume(ctx context.Context) (bool, error) {
	feed := make(chan relay.Checkpoint, t.cfg.FeedCapacity)
	sub, err := t.source.SubscribeCheckpoints(ctx, feed)
	if err != nil {
		return false, fmt.Errorf("failed to subscribe to checkpoints: %w", err)
	}
	defer sub.Unsubscribe()

	t.logger.Info("subscribed to checkpoint feed", zap.Uint64("current_slot", t.CurrentSlot()))

	// Announcements made while disconnected are only visible through the latest checkpoint.
	if latest, err := t.source.LatestCheckpoint(ctx); err != nil {
		t.logger.Warn("failed to get latest checkpoint", zap.Error(err))
	} else {
		t.Observe(latest)
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			t.drain(feed)
			if err == nil {
				err = fmt.Errorf("checkpoint subscription closed")
			}
			return true, err
		case cp := <-feed:
			t.Observe(cp)
		}
	}
}

func (t *Tracker) drain(feed <-chan relay.Checkpoint) {
	for {
		select {
		case cp := <-feed:
			t.Observe(cp)
		default:
			return
		}
	}
}
