package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// Queue is the part of the relay queue the dispatcher drives.
type Queue interface {
	Wake() <-chan struct{}
	Get(id string) (*relay.RelayMessage, error)
	ListByState(state relay.State) ([]*relay.RelayMessage, error)
	AttachProof(id string, proof []byte) (*relay.RelayMessage, error)
	RecordProofFailure(id string, cause *relay.ProofError) (*relay.RelayMessage, error)
	BeginDispatch(id string) (*relay.RelayMessage, error)
	MarkSubmitted(id string, receipt *relay.DeliveryReceipt) (*relay.RelayMessage, error)
	RecordDispatchFailure(id string, cause *relay.DispatchError) (*relay.RelayMessage, error)
}

// Checkpoints is the part of the checkpoint tracker the dispatcher waits on.
type Checkpoints interface {
	IsFinalized(slot uint64) bool
	OnAdvance(cb func(relay.Checkpoint)) func()
}

type Config struct {
	ProofWorkers    int
	DispatchWorkers int
	// Program is the destination program the redirect service forwards proofs to.
	Program string
	// RateLimit caps redirect calls per second. Zero means unlimited.
	RateLimit float64
	RateBurst int
	// GracePeriod is how long in-flight work may run after shutdown starts.
	GracePeriod time.Duration
	// MinScanInterval is the least time between two queue scans. Wakeups inside it are
	// coalesced into one scan at the end of the interval.
	MinScanInterval time.Duration
}

// Dispatcher moves messages through proof generation and delivery. A scheduler scans the queue
// when the queue changes, when the checkpoint advances and when a retry comes due, and hands
// eligible messages to bounded worker pools.
type Dispatcher struct {
	queue       Queue
	checkpoints Checkpoints
	proofs      relay.ProofGenerator
	redirector  relay.Redirector
	limiter     *rate.Limiter
	cfg         Config
	logger      *zap.Logger

	poke     chan struct{}
	mu       sync.Mutex
	inflight map[string]struct{}
	now      func() time.Time
}

func NewDispatcher(
	queue Queue,
	checkpoints Checkpoints,
	proofs relay.ProofGenerator,
	redirector relay.Redirector,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.ProofWorkers <= 0 {
		cfg.ProofWorkers = 1
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 1
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.MinScanInterval <= 0 {
		cfg.MinScanInterval = 50 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	return &Dispatcher{
		queue:       queue,
		checkpoints: checkpoints,
		proofs:      proofs,
		redirector:  redirector,
		limiter:     rate.NewLimiter(limit, cfg.RateBurst),
		cfg:         cfg,
		logger:      logger,
		poke:        make(chan struct{}, 1),
		inflight:    make(map[string]struct{}),
		now:         time.Now,
	}
}

// Run schedules work until ctx is done, then waits up to the grace period for in-flight jobs.
// Jobs still running after that are cancelled; their messages are picked up by recovery on the
// next start.
func (d *Dispatcher) Run(ctx context.Context) error {
	unsubscribe := d.checkpoints.OnAdvance(func(relay.Checkpoint) { d.wake() })
	defer unsubscribe()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	proofJobs := make(chan *relay.RelayMessage)
	dispatchJobs := make(chan *relay.RelayMessage)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.ProofWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range proofJobs {
				d.prove(workCtx, msg)
				d.done(msg)
			}
		}()
	}
	for i := 0; i < d.cfg.DispatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range dispatchJobs {
				d.deliver(workCtx, msg)
				d.done(msg)
			}
		}()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var lastScan time.Time
	for {
		select {
		case <-ctx.Done():
			close(proofJobs)
			close(dispatchJobs)
			d.shutdown(&wg, cancelWork)
			return nil
		case <-d.queue.Wake():
		case <-d.poke:
		case <-timer.C:
		}

		if wait := d.cfg.MinScanInterval - d.now().Sub(lastScan); wait > 0 {
			resetTimer(timer, wait)
			continue
		}

		lastScan = d.now()
		next, err := d.scan(ctx, proofJobs, dispatchJobs)
		if err != nil {
			d.logger.Error("failed to scan relay queue", zap.Error(err))
		}

		stopTimer(timer)
		if !next.IsZero() {
			timer.Reset(time.Until(next))
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func (d *Dispatcher) shutdown(wg *sync.WaitGroup, cancelWork context.CancelFunc) {
	d.logger.Info("Context cancelled, shutting down dispatcher...")

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(d.cfg.GracePeriod):
		d.logger.Warn("grace period expired, cancelling in-flight jobs", zap.Duration("grace_period", d.cfg.GracePeriod))
		cancelWork()
		<-stopped
	}
}

// scan hands every eligible message to a worker and returns when the earliest deferred retry
// comes due, or the zero time if nothing is deferred.
func (d *Dispatcher) scan(ctx context.Context, proofJobs, dispatchJobs chan<- *relay.RelayMessage) (time.Time, error) {
	var next time.Time
	later := func(at time.Time) {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}

	pending, err := d.queue.ListByState(relay.StatePending)
	if err != nil {
		return next, err
	}
	awaiting, err := d.queue.ListByState(relay.StateAwaitingCheckpoint)
	if err != nil {
		return next, err
	}

	now := d.now()
	for _, msg := range pending {
		if msg.NextAttemptAt.After(now) {
			later(msg.NextAttemptAt)
			continue
		}
		if !d.submit(ctx, proofJobs, msg) {
			return next, nil
		}
	}
	for _, msg := range awaiting {
		if !d.checkpoints.IsFinalized(msg.RequiredSlot) {
			continue
		}
		if msg.NextAttemptAt.After(now) {
			later(msg.NextAttemptAt)
			continue
		}
		if !d.submit(ctx, dispatchJobs, msg) {
			return next, nil
		}
	}
	return next, nil
}

// submit blocks until a worker takes the message. It returns false if ctx is done first.
func (d *Dispatcher) submit(ctx context.Context, jobs chan<- *relay.RelayMessage, msg *relay.RelayMessage) bool {
	id := msg.ID.String()

	d.mu.Lock()
	if _, ok := d.inflight[id]; ok {
		d.mu.Unlock()
		return true
	}
	d.inflight[id] = struct{}{}
	d.mu.Unlock()

	select {
	case jobs <- msg:
		return true
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.inflight, id)
		d.mu.Unlock()
		return false
	}
}

func (d *Dispatcher) done(msg *relay.RelayMessage) {
	d.mu.Lock()
	delete(d.inflight, msg.ID.String())
	d.mu.Unlock()
	d.wake()
}

func (d *Dispatcher) wake() {
	select {
	case d.poke <- struct{}{}:
	default:
	}
}

// reload returns the stored version of a message taken from a scan snapshot, or false if it has
// left state since the snapshot was taken.
func (d *Dispatcher) reload(msg *relay.RelayMessage, state relay.State) (*relay.RelayMessage, bool) {
	id := msg.ID.String()
	current, err := d.queue.Get(id)
	if err != nil {
		d.logger.Error("failed to reload message", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	if current.State != state || current.NextAttemptAt.After(d.now()) {
		d.logger.Debug("message moved on since the scan, skipping",
			zap.String("id", id),
			zap.String("state", string(current.State)))
		return nil, false
	}
	return current, true
}

func (d *Dispatcher) prove(ctx context.Context, msg *relay.RelayMessage) {
	id := msg.ID.String()
	msg, ok := d.reload(msg, relay.StatePending)
	if !ok {
		return
	}

	proof, err := d.proofs.Generate(ctx, msg.ID.TxHash)
	if err == nil {
		if _, err := d.queue.AttachProof(id, proof); err != nil {
			d.logger.Error("failed to attach proof", zap.String("id", id), zap.Error(err))
			return
		}
		d.logger.Info("proof attached", zap.String("id", id), zap.Int("size", len(proof)),
			zap.Uint64("required_slot", msg.RequiredSlot))
		return
	}
	if ctx.Err() != nil {
		d.logger.Info("proof generation interrupted by shutdown", zap.String("id", id))
		return
	}

	var perr *relay.ProofError
	if !errors.As(err, &perr) {
		perr = relay.NewProofError(relay.ErrorKindProofSourceUnavailable, err)
	}
	updated, qerr := d.queue.RecordProofFailure(id, perr)
	if qerr != nil {
		d.logger.Error("failed to record proof failure", zap.String("id", id), zap.Error(qerr))
		return
	}
	d.logger.Warn("failed to generate proof",
		zap.String("id", id),
		zap.String("kind", string(perr.Kind)),
		zap.Uint32("attempts", updated.Attempts),
		zap.String("state", string(updated.State)),
		zap.Error(err))
}

func (d *Dispatcher) deliver(ctx context.Context, msg *relay.RelayMessage) {
	id := msg.ID.String()
	if _, ok := d.reload(msg, relay.StateAwaitingCheckpoint); !ok {
		return
	}

	msg, err := d.queue.BeginDispatch(id)
	if err != nil {
		if errors.Is(err, relay.ErrNotFinalized) || errors.Is(err, relay.ErrNotDue) {
			d.logger.Debug("message is not ready for dispatch", zap.String("id", id), zap.Error(err))
			return
		}
		d.logger.Error("failed to begin dispatch", zap.String("id", id), zap.Error(err))
		return
	}

	receipt, err := d.Dispatch(ctx, msg)
	if err == nil {
		if _, err := d.queue.MarkSubmitted(id, receipt); err != nil {
			d.logger.Error("failed to mark message submitted", zap.String("id", id), zap.Error(err))
			return
		}
		d.logger.Info("deposit relayed",
			zap.String("id", id),
			zap.Uint64("slot", msg.RequiredSlot),
			zap.String("route", msg.DestinationRoute))
		return
	}
	if ctx.Err() != nil {
		// Left in Dispatching; recovery sends it again with the same idempotency key.
		d.logger.Warn("dispatch interrupted by shutdown", zap.String("id", id), zap.Error(err))
		return
	}

	var derr *relay.DispatchError
	if !errors.As(err, &derr) {
		derr = &relay.DispatchError{Kind: relay.ErrorKindSendFailure, Retryable: true, Err: err}
	}
	updated, qerr := d.queue.RecordDispatchFailure(id, derr)
	if qerr != nil {
		d.logger.Error("failed to record dispatch failure", zap.String("id", id), zap.Error(qerr))
		return
	}
	d.logger.Warn("failed to dispatch message",
		zap.String("id", id),
		zap.String("kind", string(derr.Kind)),
		zap.Bool("retryable", derr.Retryable),
		zap.Uint32("attempts", updated.Attempts),
		zap.String("state", string(updated.State)),
		zap.Error(derr.Err))
}

// Dispatch sends the message's proof through the redirect service. Failures are returned as
// *relay.DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *relay.RelayMessage) (*relay.DeliveryReceipt, error) {
	if len(msg.Proof) == 0 {
		return nil, &relay.DispatchError{
			Kind: relay.ErrorKindDecodeFailure,
			Err:  fmt.Errorf("message %s has no proof", msg.ID),
		}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, &relay.DispatchError{Kind: relay.ErrorKindSendFailure, Retryable: true, Err: err}
	}

	req := relay.RedirectRequest{
		Slot:           msg.RequiredSlot,
		Proof:          msg.Proof,
		Program:        d.cfg.Program,
		Route:          []byte(msg.DestinationRoute),
		IdempotencyKey: msg.ID.String(),
	}

	start := time.Now()
	receipt, err := d.redirector.Redirect(ctx, req)
	if err != nil {
		derr := classify(err)
		metrics.AddFailedDispatch(string(derr.Kind), time.Since(start).Seconds())
		return nil, derr
	}
	metrics.AddSuccessDispatch(time.Since(start).Seconds())
	return receipt, nil
}

func classify(err error) *relay.DispatchError {
	var rerr *relay.RedirectError
	if !errors.As(err, &rerr) {
		return &relay.DispatchError{Kind: relay.ErrorKindSendFailure, Retryable: true, Err: err}
	}

	switch rerr.Kind {
	case relay.RedirectNoEndpointForSlot, relay.RedirectSendFailure, relay.RedirectReplyFailure:
		return &relay.DispatchError{Kind: relay.ErrorKindSendFailure, Retryable: true, Err: err}
	case relay.RedirectDecodeFailure:
		return &relay.DispatchError{Kind: relay.ErrorKindDecodeFailure, Err: err}
	case relay.RedirectSourceEventClientError:
		return &relay.DispatchError{
			Kind:      relay.ErrorKindDestinationRejected,
			Retryable: rerr.Detail == relay.MissingCheckpointDetail,
			Err:       err,
		}
	default:
		return &relay.DispatchError{Kind: relay.ErrorKindDestinationRejected, Err: err}
	}
}
