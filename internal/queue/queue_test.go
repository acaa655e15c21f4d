package queue

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/relay"
	"github.com/neutron-org/deposit-relayer/internal/storage"
)

type finality struct {
	slot atomic.Uint64
}

func (f *finality) IsFinalized(slot uint64) bool { return slot <= f.slot.Load() }
func (f *finality) CurrentSlot() uint64          { return f.slot.Load() }

func newTestQueue(t *testing.T, cfg Config) (*Queue, *finality, relay.Storage) {
	t.Helper()
	f := &finality{}
	s := storage.NewMemoryStorage()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	cfg.Route = "staking_receiver/submit_receipt"
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = time.Millisecond
	q, err := NewQueue(s, f, cfg, zap.NewNop())
	require.NoError(t, err)
	return q, f, s
}

func testEvent(logIndex uint) relay.DepositEvent {
	id := relay.DepositID{ChainID: 1, TxHash: common.HexToHash("0xabc"), LogIndex: logIndex}
	return relay.DepositEvent{
		ID:             id,
		Depositor:      common.HexToAddress("0x01"),
		Amount:         big.NewInt(100000000),
		Recipient:      common.HexToHash("0x02"),
		BlockNumber:    100,
		BlockTimestamp: 1700000000,
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ev := testEvent(0)

	created, err := q.Enqueue(ev, 83)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.Enqueue(ev, 90)
	require.NoError(t, err)
	assert.False(t, created)

	msg, err := q.Get(ev.ID.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(83), msg.RequiredSlot)
	assert.Equal(t, relay.StatePending, msg.State)
	assert.Equal(t, "staking_receiver/submit_receipt", msg.DestinationRoute)

	counts, err := q.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[relay.StatePending])
}

func TestConcurrentEnqueueCreatesOneMessage(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ev := testEvent(0)

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := q.Enqueue(ev, 83)
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
}

func TestHappyPath(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{})
	ev := testEvent(0)
	id := ev.ID.String()

	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)

	msg, err := q.AttachProof(id, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, relay.StateAwaitingCheckpoint, msg.State)

	_, err = q.BeginDispatch(id)
	assert.ErrorIs(t, err, relay.ErrNotFinalized)

	msg, err = q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, relay.StateAwaitingCheckpoint, msg.State)

	f.slot.Store(83)
	msg, err = q.BeginDispatch(id)
	require.NoError(t, err)
	assert.Equal(t, relay.StateDispatching, msg.State)
	assert.Equal(t, []byte{0x01, 0x02}, []byte(msg.Proof))

	msg, err = q.MarkSubmitted(id, &relay.DeliveryReceipt{DecodedResult: []byte{0xff}})
	require.NoError(t, err)
	assert.Equal(t, relay.StateSubmitted, msg.State)
	assert.Equal(t, []byte{0xff}, []byte(msg.Result))
}

func TestAttachProofRejectsEmptyProof(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ev := testEvent(0)
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)

	_, err = q.AttachProof(ev.ID.String(), nil)
	assert.Error(t, err)
}

func TestInvalidTransitions(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	ev := testEvent(0)
	id := ev.ID.String()
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)

	_, err = q.MarkSubmitted(id, nil)
	assert.ErrorIs(t, err, relay.ErrInvalidTransition)

	_, err = q.BeginDispatch(id)
	assert.ErrorIs(t, err, relay.ErrInvalidTransition)

	_, err = q.Requeue(id)
	assert.ErrorIs(t, err, relay.ErrInvalidTransition)

	_, err = q.AttachProof(id, []byte{0x01})
	require.NoError(t, err)
	_, err = q.AttachProof(id, []byte{0x02})
	assert.ErrorIs(t, err, relay.ErrInvalidTransition)

	msg, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, []byte(msg.Proof))

	_, err = q.Get("1/0x0000000000000000000000000000000000000000000000000000000000000001/9")
	assert.ErrorIs(t, err, relay.ErrMessageNotFound)
}

func TestDispatchAttemptCeiling(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{MaxAttempts: 3})
	f.slot.Store(100)
	ev := testEvent(0)
	id := ev.ID.String()
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)
	_, err = q.AttachProof(id, []byte{0x01})
	require.NoError(t, err)

	cause := &relay.DispatchError{Kind: relay.ErrorKindSendFailure, Retryable: true, Err: errors.New("timeout")}
	calls := 0
	for {
		msg, err := q.Get(id)
		require.NoError(t, err)
		if msg.State == relay.StateFailed {
			break
		}
		require.Less(t, calls, 10)

		q.now = func() time.Time { return msg.NextAttemptAt }
		_, err = q.BeginDispatch(id)
		require.NoError(t, err)
		calls++
		_, err = q.RecordDispatchFailure(id, cause)
		require.NoError(t, err)
	}

	msg, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint32(3), msg.Attempts)
	assert.Equal(t, relay.ErrorKindSendFailure, msg.LastErrorKind)
	assert.Contains(t, msg.LastError, "timeout")
	assert.Equal(t, []byte{0x01}, []byte(msg.Proof))
}

func TestNonRetryableDispatchFailure(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{MaxAttempts: 5})
	f.slot.Store(100)
	ev := testEvent(0)
	id := ev.ID.String()
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)
	_, err = q.AttachProof(id, []byte{0x01})
	require.NoError(t, err)
	_, err = q.BeginDispatch(id)
	require.NoError(t, err)

	msg, err := q.RecordDispatchFailure(id, &relay.DispatchError{
		Kind: relay.ErrorKindDecodeFailure, Err: errors.New("bad proof"),
	})
	require.NoError(t, err)
	assert.Equal(t, relay.StateFailed, msg.State)
	assert.Equal(t, uint32(1), msg.Attempts)
}

func TestRetryableDispatchFailureIsDelayed(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{})
	q.cfg.RetryInitialInterval = time.Hour
	q.cfg.RetryMaxInterval = time.Hour
	f.slot.Store(100)
	ev := testEvent(0)
	id := ev.ID.String()
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)
	_, err = q.AttachProof(id, []byte{0x01})
	require.NoError(t, err)
	_, err = q.BeginDispatch(id)
	require.NoError(t, err)

	msg, err := q.RecordDispatchFailure(id, &relay.DispatchError{
		Kind: relay.ErrorKindSendFailure, Retryable: true, Err: errors.New("unreachable"),
	})
	require.NoError(t, err)
	assert.Equal(t, relay.StateAwaitingCheckpoint, msg.State)
	assert.True(t, msg.NextAttemptAt.After(time.Now().Add(20*time.Minute)))

	_, err = q.BeginDispatch(id)
	assert.ErrorIs(t, err, relay.ErrNotDue)
}

func TestProofFailures(t *testing.T) {
	tests := []struct {
		name     string
		kind     relay.ErrorKind
		failures int
		state    relay.State
	}{
		{"source unavailable is retried", relay.ErrorKindProofSourceUnavailable, 3, relay.StatePending},
		{"source unavailable hits the ceiling", relay.ErrorKindProofSourceUnavailable, 5, relay.StateFailed},
		{"data missing below its cap", relay.ErrorKindProofDataMissing, 1, relay.StatePending},
		{"data missing hits its cap", relay.ErrorKindProofDataMissing, 2, relay.StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _, _ := newTestQueue(t, Config{MaxAttempts: 5, MaxDataMissingAttempts: 2})
			ev := testEvent(0)
			id := ev.ID.String()
			_, err := q.Enqueue(ev, 83)
			require.NoError(t, err)

			var msg *relay.RelayMessage
			for i := 0; i < tt.failures; i++ {
				msg, err = q.RecordProofFailure(id, relay.NewProofError(tt.kind, errors.New("boom")))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.state, msg.State)
			assert.Equal(t, uint32(tt.failures), msg.Attempts)
			assert.Equal(t, tt.kind, msg.LastErrorKind)
			assert.Nil(t, msg.Proof)
		})
	}
}

func TestRecover(t *testing.T) {
	q, f, s := newTestQueue(t, Config{})
	f.slot.Store(100)

	dispatching := testEvent(0)
	awaiting := testEvent(1)
	pending := testEvent(2)
	for _, ev := range []relay.DepositEvent{dispatching, awaiting, pending} {
		_, err := q.Enqueue(ev, 83)
		require.NoError(t, err)
	}
	for _, ev := range []relay.DepositEvent{dispatching, awaiting} {
		_, err := q.AttachProof(ev.ID.String(), []byte{0x01})
		require.NoError(t, err)
	}
	_, err := q.BeginDispatch(dispatching.ID.String())
	require.NoError(t, err)

	// A crash between the two proof writes leaves a message in ProofReady.
	stranded, _, err := s.GetMessage(awaiting.ID.String())
	require.NoError(t, err)
	stranded.State = relay.StateProofReady
	require.NoError(t, s.UpdateMessage(stranded))

	n, err := q.Recover()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, ev := range []relay.DepositEvent{dispatching, awaiting} {
		msg, err := q.Get(ev.ID.String())
		require.NoError(t, err)
		assert.Equal(t, relay.StateAwaitingCheckpoint, msg.State)
		assert.Equal(t, []byte{0x01}, []byte(msg.Proof))
	}
	msg, err := q.Get(pending.ID.String())
	require.NoError(t, err)
	assert.Equal(t, relay.StatePending, msg.State)

	n, err = q.Recover()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequeue(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{})
	f.slot.Store(100)

	withProof := testEvent(0)
	withoutProof := testEvent(1)
	for _, ev := range []relay.DepositEvent{withProof, withoutProof} {
		_, err := q.Enqueue(ev, 83)
		require.NoError(t, err)
	}

	_, err := q.AttachProof(withProof.ID.String(), []byte{0x01})
	require.NoError(t, err)
	_, err = q.BeginDispatch(withProof.ID.String())
	require.NoError(t, err)
	_, err = q.RecordDispatchFailure(withProof.ID.String(), &relay.DispatchError{
		Kind: relay.ErrorKindDestinationRejected, Err: errors.New("InvalidReceiptProof"),
	})
	require.NoError(t, err)

	_, err = q.MarkFailed(withoutProof.ID.String(), relay.ErrorKindProofDataMissing, errors.New("receipt not found"))
	require.NoError(t, err)

	msg, err := q.Requeue(withProof.ID.String())
	require.NoError(t, err)
	assert.Equal(t, relay.StateAwaitingCheckpoint, msg.State)
	assert.Equal(t, uint32(0), msg.Attempts)
	assert.Contains(t, msg.RequeuedFrom, "InvalidReceiptProof")
	assert.Empty(t, msg.LastError)

	msg, err = q.Requeue(withoutProof.ID.String())
	require.NoError(t, err)
	assert.Equal(t, relay.StatePending, msg.State)

	failed, err := q.ListByState(relay.StateFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestMarkFailedRejectsTerminalMessages(t *testing.T) {
	q, f, _ := newTestQueue(t, Config{})
	f.slot.Store(100)
	ev := testEvent(0)
	id := ev.ID.String()
	_, err := q.Enqueue(ev, 83)
	require.NoError(t, err)
	_, err = q.AttachProof(id, []byte{0x01})
	require.NoError(t, err)
	_, err = q.BeginDispatch(id)
	require.NoError(t, err)
	_, err = q.MarkSubmitted(id, nil)
	require.NoError(t, err)

	_, err = q.MarkFailed(id, relay.ErrorKindDestinationRejected, errors.New("late"))
	assert.ErrorIs(t, err, relay.ErrInvalidTransition)
}

func TestWakeCoalesces(t *testing.T) {
	q, _, _ := newTestQueue(t, Config{})
	for i := uint(0); i < 3; i++ {
		_, err := q.Enqueue(testEvent(i), 83)
		require.NoError(t, err)
	}

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected a wake signal")
	}
	select {
	case <-q.Wake():
		t.Fatal("wake signals should coalesce")
	default:
	}
}
