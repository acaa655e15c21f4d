package queue

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/metrics"
	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const lockStripes = 256

type Config struct {
	// MaxAttempts is the attempt ceiling; a message that reaches it is Failed.
	MaxAttempts uint32
	// MaxDataMissingAttempts caps retries of proofs whose source data is missing.
	MaxDataMissingAttempts uint32
	RetryInitialInterval   time.Duration
	RetryMaxInterval       time.Duration
	// Route is the destination route stamped on every new message.
	Route string
}

// Queue owns every RelayMessage and is the only place its state changes. Mutations of one
// message are serialized by a striped lock, so unrelated messages never wait on each other.
type Queue struct {
	storage  relay.Storage
	finality relay.FinalityChecker
	cfg      Config
	logger   *zap.Logger

	locks [lockStripes]sync.Mutex
	wake  chan struct{}
	now   func() time.Time
}

func NewQueue(storage relay.Storage, finality relay.FinalityChecker, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.MaxAttempts == 0 {
		return nil, errors.New("max attempts must be positive")
	}
	if cfg.MaxDataMissingAttempts == 0 || cfg.MaxDataMissingAttempts > cfg.MaxAttempts {
		cfg.MaxDataMissingAttempts = cfg.MaxAttempts
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}

	return &Queue{
		storage:  storage,
		finality: finality,
		cfg:      cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}, nil
}

// Wake fires after any change that may make a message eligible for work. Signals coalesce.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Enqueue creates a Pending message for the event. It is a no-op returning false if a message
// with the same identity exists.
func (q *Queue) Enqueue(event relay.DepositEvent, requiredSlot uint64) (bool, error) {
	id := event.ID.String()
	unlock := q.lock(id)
	defer unlock()

	_, found, err := q.storage.GetMessage(id)
	if err != nil {
		return false, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if found {
		return false, nil
	}

	now := q.now()
	msg := &relay.RelayMessage{
		ID:               event.ID,
		Event:            event,
		RequiredSlot:     requiredSlot,
		State:            relay.StatePending,
		DestinationRoute: q.cfg.Route,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := q.storage.CreateMessage(msg); err != nil {
		return false, fmt.Errorf("failed to create message %s: %w", id, err)
	}

	q.logger.Info("deposit enqueued",
		zap.String("id", id),
		zap.Uint64("block", event.BlockNumber),
		zap.Uint64("required_slot", requiredSlot),
		zap.Stringer("amount", event.Amount))
	metrics.IncMessagesCreated()
	q.notify()

	return true, nil
}

func (q *Queue) Get(id string) (*relay.RelayMessage, error) {
	msg, found, err := q.storage.GetMessage(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", relay.ErrMessageNotFound, id)
	}
	return msg, nil
}

// AttachProof stores the proof of a Pending message and moves it on to AwaitingCheckpoint.
func (q *Queue) AttachProof(id string, proof []byte) (*relay.RelayMessage, error) {
	if len(proof) == 0 {
		return nil, errors.New("refusing to attach an empty proof")
	}

	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "AttachProof", relay.StatePending)
	if err != nil {
		return nil, err
	}

	msg.Proof = append([]byte(nil), proof...)
	msg.LastError = ""
	msg.LastErrorKind = ""
	msg.NextAttemptAt = time.Time{}
	if err := q.save(msg, relay.StateProofReady); err != nil {
		return nil, err
	}
	if err := q.save(msg, relay.StateAwaitingCheckpoint); err != nil {
		return nil, err
	}

	q.notify()
	return msg.Clone(), nil
}

// RecordProofFailure counts a failed proof attempt of a Pending message and either schedules a
// retry or fails the message.
func (q *Queue) RecordProofFailure(id string, cause *relay.ProofError) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "RecordProofFailure", relay.StatePending)
	if err != nil {
		return nil, err
	}

	msg.Attempts++
	msg.LastError = cause.Error()
	msg.LastErrorKind = cause.Kind

	limit := q.cfg.MaxAttempts
	if cause.Kind == relay.ErrorKindProofDataMissing {
		limit = q.cfg.MaxDataMissingAttempts
	}

	next := relay.StatePending
	if msg.Attempts >= limit {
		next = relay.StateFailed
	} else {
		msg.NextAttemptAt = q.now().Add(q.retryDelay(msg.Attempts))
	}
	if err := q.save(msg, next); err != nil {
		return nil, err
	}

	q.notify()
	return msg.Clone(), nil
}

// BeginDispatch moves an AwaitingCheckpoint message whose slot is finalized to Dispatching.
func (q *Queue) BeginDispatch(id string) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "BeginDispatch", relay.StateAwaitingCheckpoint)
	if err != nil {
		return nil, err
	}
	if !q.finality.IsFinalized(msg.RequiredSlot) {
		return nil, fmt.Errorf("%w: message %s needs slot %d, current slot is %d",
			relay.ErrNotFinalized, id, msg.RequiredSlot, q.finality.CurrentSlot())
	}
	if q.now().Before(msg.NextAttemptAt) {
		return nil, fmt.Errorf("%w: message %s", relay.ErrNotDue, id)
	}

	if err := q.save(msg, relay.StateDispatching); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

func (q *Queue) MarkSubmitted(id string, receipt *relay.DeliveryReceipt) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "MarkSubmitted", relay.StateDispatching)
	if err != nil {
		return nil, err
	}

	msg.Attempts++
	if receipt != nil {
		msg.Result = append([]byte(nil), receipt.DecodedResult...)
	}
	msg.LastError = ""
	msg.LastErrorKind = ""
	if err := q.save(msg, relay.StateSubmitted); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// RecordDispatchFailure counts a failed dispatch. Retryable failures go back to
// AwaitingCheckpoint with a delay unless the ceiling is reached.
func (q *Queue) RecordDispatchFailure(id string, cause *relay.DispatchError) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "RecordDispatchFailure", relay.StateDispatching)
	if err != nil {
		return nil, err
	}

	msg.Attempts++
	msg.LastError = cause.Error()
	msg.LastErrorKind = cause.Kind

	next := relay.StateAwaitingCheckpoint
	if !cause.Retryable || msg.Attempts >= q.cfg.MaxAttempts {
		next = relay.StateFailed
	} else {
		msg.NextAttemptAt = q.now().Add(q.retryDelay(msg.Attempts))
	}
	if err := q.save(msg, next); err != nil {
		return nil, err
	}

	q.notify()
	return msg.Clone(), nil
}

// MarkFailed fails a non-terminal message outright.
func (q *Queue) MarkFailed(id string, kind relay.ErrorKind, cause error) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "MarkFailed",
		relay.StatePending, relay.StateProofReady, relay.StateAwaitingCheckpoint, relay.StateDispatching)
	if err != nil {
		return nil, err
	}

	msg.LastError = cause.Error()
	msg.LastErrorKind = kind
	if err := q.save(msg, relay.StateFailed); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// Recover returns messages interrupted by a shutdown to AwaitingCheckpoint. A message left in
// Dispatching may or may not have reached the destination; the idempotency key makes the
// second delivery harmless.
func (q *Queue) Recover() (int, error) {
	recovered := 0
	for _, state := range []relay.State{relay.StateProofReady, relay.StateDispatching} {
		msgs, err := q.storage.ListMessagesByState(state)
		if err != nil {
			return recovered, fmt.Errorf("failed to list %s messages: %w", state, err)
		}

		for _, m := range msgs {
			id := m.ID.String()
			if err := q.recoverOne(id, state); err != nil {
				return recovered, err
			}
			recovered++
		}
	}

	if recovered > 0 {
		q.logger.Info("recovered interrupted messages", zap.Int("count", recovered))
		q.notify()
	}
	return recovered, nil
}

func (q *Queue) recoverOne(id string, from relay.State) error {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "Recover", from)
	if err != nil {
		return err
	}
	msg.NextAttemptAt = time.Time{}
	return q.save(msg, relay.StateAwaitingCheckpoint)
}

// Requeue gives a Failed message a fresh attempt budget. Only operators call it.
func (q *Queue) Requeue(id string) (*relay.RelayMessage, error) {
	unlock := q.lock(id)
	defer unlock()

	msg, err := q.load(id, "Requeue", relay.StateFailed)
	if err != nil {
		return nil, err
	}

	next := relay.StatePending
	if len(msg.Proof) > 0 {
		next = relay.StateAwaitingCheckpoint
	}
	msg.RequeuedFrom = fmt.Sprintf("%s: %s", msg.LastErrorKind, msg.LastError)
	msg.Attempts = 0
	msg.LastError = ""
	msg.LastErrorKind = ""
	msg.NextAttemptAt = time.Time{}
	if err := q.save(msg, next); err != nil {
		return nil, err
	}

	q.logger.Info("message requeued by operator", zap.String("id", id), zap.String("state", string(next)))
	q.notify()
	return msg.Clone(), nil
}

func (q *Queue) ListByState(state relay.State) ([]*relay.RelayMessage, error) {
	msgs, err := q.storage.ListMessagesByState(state)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s messages: %w", state, err)
	}
	return msgs, nil
}

func (q *Queue) Counts() (map[relay.State]int, error) {
	counts, err := q.storage.CountMessagesByState()
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	return counts, nil
}

// load reads a message and checks it is in one of the allowed states. Callers hold the lock.
func (q *Queue) load(id string, op string, allowed ...relay.State) (*relay.RelayMessage, error) {
	msg, found, err := q.storage.GetMessage(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", relay.ErrMessageNotFound, id)
	}

	for _, s := range allowed {
		if msg.State == s {
			return msg, nil
		}
	}

	terr := &relay.TransitionError{ID: id, From: msg.State, Op: op}
	q.logger.Error("invalid message state transition",
		zap.String("id", id),
		zap.String("op", op),
		zap.String("state", string(msg.State)),
		zap.Uint32("attempts", msg.Attempts),
		zap.Uint64("required_slot", msg.RequiredSlot))
	return nil, terr
}

func (q *Queue) save(msg *relay.RelayMessage, next relay.State) error {
	from := msg.State
	msg.State = next
	msg.UpdatedAt = q.now()
	if err := q.storage.UpdateMessage(msg); err != nil {
		msg.State = from
		return fmt.Errorf("failed to update message %s: %w", msg.ID, err)
	}

	if from != next {
		metrics.IncMessageTransition(string(from), string(next))
		q.logger.Debug("message state changed",
			zap.String("id", msg.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(next)),
			zap.Uint32("attempts", msg.Attempts))
	}
	if next == relay.StateFailed {
		q.logger.Error("message failed",
			zap.String("id", msg.ID.String()),
			zap.Uint32("attempts", msg.Attempts),
			zap.String("error_kind", string(msg.LastErrorKind)),
			zap.String("error", msg.LastError))
	}
	return nil
}

func (q *Queue) retryDelay(attempts uint32) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryInitialInterval
	b.MaxInterval = q.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := uint32(1); i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (q *Queue) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &q.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
