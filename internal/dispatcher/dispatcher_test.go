package dispatcher_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/neutron-org/deposit-relayer/internal/checkpoint"
	"github.com/neutron-org/deposit-relayer/internal/destination"
	"github.com/neutron-org/deposit-relayer/internal/dispatcher"
	"github.com/neutron-org/deposit-relayer/internal/queue"
	"github.com/neutron-org/deposit-relayer/internal/relay"
	"github.com/neutron-org/deposit-relayer/internal/slotclock"
	"github.com/neutron-org/deposit-relayer/internal/storage"
	"github.com/neutron-org/deposit-relayer/testutil/gateway"
	mock_relay "github.com/neutron-org/deposit-relayer/testutil/mocks/relay"
)

const (
	route   = "staking_receiver/submit_receipt"
	program = "0x6f2d4c0e"
)

var (
	txHash = common.HexToHash("0x9f1c6bd0d1d7f1ea10e4f5dbb6cf4ad1c7b0e1e7a3b1f5c2d4e6f8a0b2c4d6e8")
	proof  = []byte{0xf9, 0x01, 0x02, 0x03}
)

type harness struct {
	queue   *queue.Queue
	tracker *checkpoint.Tracker
	event   relay.DepositEvent
	slot    uint64
}

func newHarness(t *testing.T, maxAttempts uint32) *harness {
	t.Helper()
	s := storage.NewMemoryStorage()
	tracker := checkpoint.NewTracker(nil, nil, checkpoint.Config{}, zap.NewNop())
	q, err := queue.NewQueue(s, tracker, queue.Config{
		MaxAttempts:            maxAttempts,
		MaxDataMissingAttempts: 2,
		RetryInitialInterval:   time.Millisecond,
		RetryMaxInterval:       2 * time.Millisecond,
		Route:                  route,
	}, zap.NewNop())
	require.NoError(t, err)

	clock, err := slotclock.NewSlotClock(1699999000, 12)
	require.NoError(t, err)
	ev := relay.DepositEvent{
		ID:             relay.DepositID{ChainID: 11155111, TxHash: txHash, LogIndex: 0},
		Depositor:      common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Amount:         big.NewInt(1e18),
		Recipient:      common.HexToHash("0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"),
		BlockNumber:    100,
		BlockHash:      common.HexToHash("0xb10c"),
		BlockTimestamp: 1700000000,
	}
	slot, err := clock.SlotFor(ev.BlockTimestamp)
	require.NoError(t, err)

	return &harness{queue: q, tracker: tracker, event: ev, slot: slot}
}

func (h *harness) id() string {
	return h.event.ID.String()
}

func (h *harness) state(t *testing.T) relay.State {
	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	return msg.State
}

func start(t *testing.T, d *dispatcher.Dispatcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- d.Run(ctx)
	}()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestDepositIsRelayedOnceCheckpointCoversItsSlot(t *testing.T) {
	h := newHarness(t, 5)
	require.Equal(t, uint64(83), h.slot)

	gw := gateway.New()
	defer gw.Close()
	dest := destination.NewClient(gw.Client(), destination.Config{Timeout: 5 * time.Second}, zap.NewNop())

	proofs := mock_relay.NewMockProofGenerator(gomock.NewController(t))
	proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil).Times(1)

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, dest, dispatcher.Config{
		ProofWorkers:    2,
		DispatchWorkers: 2,
		Program:         program,
	}, zap.NewNop())
	stop := start(t, d)
	defer stop()

	created, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)
	require.True(t, created)

	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateAwaitingCheckpoint
	}, 5*time.Second, 5*time.Millisecond)

	h.tracker.Observe(relay.Checkpoint{Slot: 75, Root: common.HexToHash("0x75")})
	assert.Never(t, func() bool {
		return len(gw.Redirects()) > 0
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, relay.StateAwaitingCheckpoint, h.state(t))

	h.tracker.Observe(relay.Checkpoint{Slot: 83, Root: common.HexToHash("0x83")})
	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	redirects := gw.Redirects()
	require.Len(t, redirects, 1)
	assert.Equal(t, uint64(83), redirects[0].Slot)
	assert.Equal(t, route, string(redirects[0].Route))
	assert.Equal(t, program, redirects[0].Program)
	assert.Equal(t, h.id(), redirects[0].IdempotencyKey)
	assert.Equal(t, proof, []byte(redirects[0].Proof))

	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), msg.Attempts)
	assert.Equal(t, []byte("ok"), []byte(msg.Result))
}

func TestAttemptCeiling(t *testing.T) {
	h := newHarness(t, 3)
	h.tracker.Observe(relay.Checkpoint{Slot: 100})

	ctrl := gomock.NewController(t)
	proofs := mock_relay.NewMockProofGenerator(ctrl)
	proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil)
	redirector := mock_relay.NewMockRedirector(ctrl)
	redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).
		Return(nil, &relay.RedirectError{Kind: relay.RedirectSendFailure}).Times(3)

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, redirector, dispatcher.Config{}, zap.NewNop())
	stop := start(t, d)

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateFailed
	}, 5*time.Second, 5*time.Millisecond)
	// no further calls once Failed
	time.Sleep(50 * time.Millisecond)
	stop()

	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), msg.Attempts)
	assert.Equal(t, relay.ErrorKindSendFailure, msg.LastErrorKind)
}

func TestNonRetryableFailureShortCircuits(t *testing.T) {
	h := newHarness(t, 5)
	h.tracker.Observe(relay.Checkpoint{Slot: 100})

	ctrl := gomock.NewController(t)
	proofs := mock_relay.NewMockProofGenerator(ctrl)
	proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil)
	redirector := mock_relay.NewMockRedirector(ctrl)
	redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).
		Return(nil, &relay.RedirectError{Kind: relay.RedirectDecodeFailure, Detail: "bad proof"}).Times(1)

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, redirector, dispatcher.Config{}, zap.NewNop())
	stop := start(t, d)

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateFailed
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), msg.Attempts)
	assert.Equal(t, relay.ErrorKindDecodeFailure, msg.LastErrorKind)
	assert.Equal(t, proof, []byte(msg.Proof))
}

func TestMissingCheckpointIsRetried(t *testing.T) {
	h := newHarness(t, 5)
	h.tracker.Observe(relay.Checkpoint{Slot: 100})

	ctrl := gomock.NewController(t)
	proofs := mock_relay.NewMockProofGenerator(ctrl)
	proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil).Times(1)
	redirector := mock_relay.NewMockRedirector(ctrl)
	gomock.InOrder(
		redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).Return(nil, &relay.RedirectError{
			Kind:   relay.RedirectSourceEventClientError,
			Detail: relay.MissingCheckpointDetail,
		}),
		redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).Return(nil, &relay.RedirectError{
			Kind: relay.RedirectNoEndpointForSlot,
		}),
		redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).
			Return(&relay.DeliveryReceipt{DecodedResult: []byte{0x01}}, nil),
	)

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, redirector, dispatcher.Config{}, zap.NewNop())
	stop := start(t, d)
	defer stop()

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), msg.Attempts)
}

func TestProofDataMissingFailsAfterCap(t *testing.T) {
	h := newHarness(t, 5)

	ctrl := gomock.NewController(t)
	proofs := mock_relay.NewMockProofGenerator(ctrl)
	proofs.EXPECT().Generate(gomock.Any(), txHash).
		Return(nil, relay.NewProofError(relay.ErrorKindProofDataMissing, errors.New("receipt not found"))).Times(2)
	redirector := mock_relay.NewMockRedirector(ctrl)

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, redirector, dispatcher.Config{}, zap.NewNop())
	stop := start(t, d)

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.state(t) == relay.StateFailed
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	msg, err := h.queue.Get(h.id())
	require.NoError(t, err)
	assert.Equal(t, relay.ErrorKindProofDataMissing, msg.LastErrorKind)
	assert.Empty(t, msg.Proof)
}

func TestShutdownLeavesInterruptedDispatchRecoverable(t *testing.T) {
	h := newHarness(t, 5)
	h.tracker.Observe(relay.Checkpoint{Slot: 100})

	ctrl := gomock.NewController(t)
	proofs := mock_relay.NewMockProofGenerator(ctrl)
	proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil)
	redirector := mock_relay.NewMockRedirector(ctrl)
	called := make(chan struct{})
	redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
			close(called)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, redirector, dispatcher.Config{
		GracePeriod: 20 * time.Millisecond,
	}, zap.NewNop())
	stop := start(t, d)

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)
	<-called
	stop()

	assert.Equal(t, relay.StateDispatching, h.state(t))

	recovered, err := h.queue.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, relay.StateAwaitingCheckpoint, h.state(t))
}

func TestDispatchClassifiesRedirectErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      relay.ErrorKind
		retryable bool
	}{
		{"transport error", errors.New("connection refused"), relay.ErrorKindSendFailure, true},
		{"no endpoint for slot", &relay.RedirectError{Kind: relay.RedirectNoEndpointForSlot}, relay.ErrorKindSendFailure, true},
		{"send failure", &relay.RedirectError{Kind: relay.RedirectSendFailure}, relay.ErrorKindSendFailure, true},
		{"reply failure", &relay.RedirectError{Kind: relay.RedirectReplyFailure}, relay.ErrorKindSendFailure, true},
		{"decode failure", &relay.RedirectError{Kind: relay.RedirectDecodeFailure}, relay.ErrorKindDecodeFailure, false},
		{
			"event client rejection",
			&relay.RedirectError{Kind: relay.RedirectSourceEventClientError, Detail: "InvalidReceiptProof"},
			relay.ErrorKindDestinationRejected, false,
		},
		{
			"missing checkpoint",
			&relay.RedirectError{Kind: relay.RedirectSourceEventClientError, Detail: relay.MissingCheckpointDetail},
			relay.ErrorKindDestinationRejected, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redirector := mock_relay.NewMockRedirector(gomock.NewController(t))
			redirector.EXPECT().Redirect(gomock.Any(), gomock.Any()).Return(nil, tt.err)

			d := dispatcher.NewDispatcher(nil, nil, nil, redirector, dispatcher.Config{Program: program}, zap.NewNop())
			_, err := d.Dispatch(context.Background(), &relay.RelayMessage{
				ID:               relay.DepositID{ChainID: 1, TxHash: txHash},
				RequiredSlot:     83,
				Proof:            proof,
				DestinationRoute: route,
			})

			var derr *relay.DispatchError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.kind, derr.Kind)
			assert.Equal(t, tt.retryable, derr.Retryable)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDispatchRefusesMessageWithoutProof(t *testing.T) {
	redirector := mock_relay.NewMockRedirector(gomock.NewController(t))

	d := dispatcher.NewDispatcher(nil, nil, nil, redirector, dispatcher.Config{}, zap.NewNop())
	_, err := d.Dispatch(context.Background(), &relay.RelayMessage{RequiredSlot: 83})

	var derr *relay.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, relay.ErrorKindDecodeFailure, derr.Kind)
	assert.False(t, derr.Retryable)
}

// A message that leaves Pending while a scan is parked on a busy worker must not be proven again
// from that scan's stale listing.
func TestStaleScanDoesNotRegenerateProof(t *testing.T) {
	h := newHarness(t, 5)

	first := h.event
	first.ID.TxHash = common.HexToHash("0x01")
	firstID := first.ID.String()
	require.Less(t, firstID, h.id())

	started := make(chan struct{})
	gate := make(chan struct{})
	var slowCalls, fastCalls atomic.Int32

	proofs := mock_relay.NewMockProofGenerator(gomock.NewController(t))
	proofs.EXPECT().Generate(gomock.Any(), txHash).DoAndReturn(func(context.Context, common.Hash) ([]byte, error) {
		if slowCalls.Add(1) == 1 {
			close(started)
			<-gate
		}
		return proof, nil
	}).AnyTimes()
	proofs.EXPECT().Generate(gomock.Any(), first.ID.TxHash).DoAndReturn(func(context.Context, common.Hash) ([]byte, error) {
		fastCalls.Add(1)
		return proof, nil
	}).AnyTimes()

	d := dispatcher.NewDispatcher(h.queue, h.tracker, proofs, nil, dispatcher.Config{
		ProofWorkers:    1,
		MinScanInterval: time.Millisecond,
	}, zap.NewNop())
	stop := start(t, d)
	defer stop()

	_, err := h.queue.Enqueue(h.event, h.slot)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("proof generation did not start")
	}

	// the next scan lists both messages and parks on the busy worker
	_, err = h.queue.Enqueue(first, h.slot)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	close(gate)

	require.Eventually(t, func() bool {
		other, err := h.queue.Get(firstID)
		require.NoError(t, err)
		return h.state(t) == relay.StateAwaitingCheckpoint && other.State == relay.StateAwaitingCheckpoint
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), slowCalls.Load())
	assert.Equal(t, int32(1), fastCalls.Load())
}

type countingQueue struct {
	*queue.Queue
	scans atomic.Int32
}

func (c *countingQueue) ListByState(state relay.State) ([]*relay.RelayMessage, error) {
	if state == relay.StatePending {
		c.scans.Add(1)
	}
	return c.Queue.ListByState(state)
}

func TestWakeupsAreCoalescedIntoOneScan(t *testing.T) {
	h := newHarness(t, 5)
	q := &countingQueue{Queue: h.queue}

	proofs := mock_relay.NewMockProofGenerator(gomock.NewController(t))
	d := dispatcher.NewDispatcher(q, h.tracker, proofs, nil, dispatcher.Config{
		MinScanInterval: 300 * time.Millisecond,
	}, zap.NewNop())
	stop := start(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		return q.scans.Load() == 1
	}, 5*time.Second, time.Millisecond)

	for slot := uint64(1); slot <= 10; slot++ {
		h.tracker.Observe(relay.Checkpoint{Slot: slot})
	}
	assert.Never(t, func() bool {
		return q.scans.Load() > 1
	}, 150*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return q.scans.Load() == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return q.scans.Load() > 2
	}, 400*time.Millisecond, 10*time.Millisecond)
}
