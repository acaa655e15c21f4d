package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	nlogger "github.com/neutron-org/neutron-logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neutron-org/deposit-relayer/internal/checkpoint"
	"github.com/neutron-org/deposit-relayer/internal/config"
	"github.com/neutron-org/deposit-relayer/internal/dispatcher"
	relayhttp "github.com/neutron-org/deposit-relayer/internal/http"
	"github.com/neutron-org/deposit-relayer/internal/proof"
	"github.com/neutron-org/deposit-relayer/internal/queue"
	"github.com/neutron-org/deposit-relayer/internal/relay"
	"github.com/neutron-org/deposit-relayer/internal/slotclock"
	"github.com/neutron-org/deposit-relayer/internal/subscriber"
)

// stopMargin is what Stop waits on top of the grace period for the api server and the feeds to
// wind down.
const stopMargin = 5 * time.Second

// Collaborators are the external parts a RelayService is built on.
type Collaborators struct {
	Storage     relay.Storage
	Source      relay.EventSource
	Checkpoints relay.CheckpointSource
	Proofs      relay.ProofGenerator
	Redirector  relay.Redirector
	Clock       *slotclock.SlotClock
}

// RelayService wires the deposit subscriber, the checkpoint tracker, the relay queue and the
// dispatcher together and runs them as one unit.
type RelayService struct {
	storage    relay.Storage
	queue      *queue.Queue
	tracker    *checkpoint.Tracker
	subscriber *subscriber.Subscriber
	dispatcher *dispatcher.Dispatcher
	clock      *slotclock.SlotClock

	logRegistry *nlogger.Registry
	logger      *zap.Logger
	listenAddr  string
	grace       time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

var _ relayhttp.Service = (*RelayService)(nil)

func NewRelayService(cfg config.RelayerConfig, logRegistry *nlogger.Registry, c Collaborators) (*RelayService, error) {
	if c.Storage == nil || c.Source == nil || c.Checkpoints == nil || c.Proofs == nil || c.Redirector == nil || c.Clock == nil {
		return nil, fmt.Errorf("relay service is missing a collaborator")
	}

	tracker := newTracker(cfg, logRegistry, c.Checkpoints, c.Storage)
	q, err := newQueue(cfg, logRegistry, c.Storage, tracker)
	if err != nil {
		return nil, err
	}
	sub, err := newSubscriber(cfg, logRegistry, c.Source, q, c.Clock, c.Storage)
	if err != nil {
		return nil, err
	}

	return &RelayService{
		storage:     c.Storage,
		queue:       q,
		tracker:     tracker,
		subscriber:  sub,
		dispatcher:  newDispatcher(cfg, logRegistry, q, tracker, c.Proofs, c.Redirector),
		clock:       c.Clock,
		logRegistry: logRegistry,
		logger:      logRegistry.Get(AppContext),
		listenAddr:  cfg.ListenAddr,
		grace:       cfg.ShutdownGracePeriod,
	}, nil
}

// Start recovers interrupted messages, seeds the checkpoint tracker and runs every component
// until ctx is done, Stop is called or one of them fails. It blocks.
func (s *RelayService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("relay service is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done, s.running = cancel, done, true
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	recovered, err := s.queue.Recover()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted messages: %w", err)
	}
	if err := s.tracker.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed checkpoint tracker: %w", err)
	}
	s.logger.Info("relay service started",
		zap.Int("recovered", recovered),
		zap.Uint64("current_slot", s.tracker.CurrentSlot()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.subscriber.Subscribe(gctx); err != nil {
			return fmt.Errorf("subscriber exited with an error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.tracker.Run(gctx); err != nil {
			return fmt.Errorf("checkpoint tracker exited with an error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.dispatcher.Run(gctx); err != nil {
			return fmt.Errorf("dispatcher exited with an error: %w", err)
		}
		return nil
	})
	if s.listenAddr != "" {
		g.Go(func() error {
			if err := relayhttp.Run(gctx, s.logRegistry, s, s.listenAddr); err != nil {
				return fmt.Errorf("api server exited with an error: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	s.logger.Info("relay service stopped")
	return err
}

// Stop cancels a running Start and waits for it to return.
func (s *RelayService) Stop() error {
	s.mu.Lock()
	cancel, done, running := s.cancel, s.done, s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(s.grace + stopMargin):
		return fmt.Errorf("relay service did not stop within %s", s.grace+stopMargin)
	}
}

func (s *RelayService) Status() (relay.ServiceStatus, error) {
	counts, err := s.queue.Counts()
	if err != nil {
		return relay.ServiceStatus{}, fmt.Errorf("failed to count messages: %w", err)
	}
	block, _, err := s.storage.GetLastProcessedBlock()
	if err != nil {
		return relay.ServiceStatus{}, fmt.Errorf("failed to get last processed block: %w", err)
	}
	latest := s.tracker.Latest()

	return relay.ServiceStatus{
		Counts:             counts,
		CurrentSlot:        latest.Slot,
		CurrentSlotStart:   s.clock.TimestampFor(latest.Slot),
		CheckpointRoot:     latest.Root,
		LastProcessedBlock: block,
		ProofEncoding:      proof.EncodingRLPv1,
	}, nil
}

func (s *RelayService) ListMessages(state relay.State) ([]*relay.RelayMessage, error) {
	return s.queue.ListByState(state)
}

func (s *RelayService) GetMessage(id string) (*relay.RelayMessage, error) {
	return s.queue.Get(id)
}

// Requeue gives a Failed message a fresh attempt budget.
func (s *RelayService) Requeue(id string) (*relay.RelayMessage, error) {
	msg, err := s.queue.Requeue(id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("message requeued by operator", zap.String("id", id), zap.String("requeued_from", msg.RequeuedFrom))
	return msg, nil
}
