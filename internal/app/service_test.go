package app_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	nlogger "github.com/neutron-org/neutron-logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/neutron-org/deposit-relayer/internal/app"
	"github.com/neutron-org/deposit-relayer/internal/config"
	"github.com/neutron-org/deposit-relayer/internal/destination"
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
	txHash  = common.HexToHash("0x9f1c6bd0d1d7f1ea10e4f5dbb6cf4ad1c7b0e1e7a3b1f5c2d4e6f8a0b2c4d6e8")
	proof   = []byte{0xf9, 0x01, 0x02, 0x03}
	deposit = relay.DepositEvent{
		ID:             relay.DepositID{ChainID: 11155111, TxHash: txHash, LogIndex: 1},
		Depositor:      common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Amount:         big.NewInt(1e18),
		Recipient:      common.HexToHash("0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"),
		BlockNumber:    100,
		BlockHash:      common.HexToHash("0xb10c"),
		BlockTimestamp: 1700000000,
	}
)

// fakeSource serves a fixed set of deposits both through backfill and through the live feed.
type fakeSource struct {
	latest uint64
	events []relay.DepositEvent
}

func (f *fakeSource) SubscribeDeposits(_ context.Context, sink chan<- relay.DepositEvent) (relay.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, ev := range f.events {
			select {
			case sink <- ev:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func (f *fakeSource) DepositsInRange(_ context.Context, from, to uint64) ([]relay.DepositEvent, error) {
	var out []relay.DepositEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestBlock(context.Context) (uint64, error) {
	return f.latest, nil
}

func testConfig() config.RelayerConfig {
	return config.RelayerConfig{
		Source: config.SourceConfig{
			GenesisTime:              1699999000,
			SecondsPerSlot:           12,
			BackfillBlocks:           100,
			BackfillBatchSize:        1000,
			ReconnectInitialInterval: time.Millisecond,
			ReconnectMaxInterval:     10 * time.Millisecond,
		},
		Destination: config.DestinationConfig{
			Program:                  program,
			Route:                    route,
			ReconnectInitialInterval: time.Millisecond,
			ReconnectMaxInterval:     10 * time.Millisecond,
		},
		Queue: config.QueueConfig{
			MaxAttempts:            5,
			MaxDataMissingAttempts: 2,
			RetryInitialInterval:   time.Millisecond,
			RetryMaxInterval:       5 * time.Millisecond,
		},
		Dispatcher: config.DispatcherConfig{
			ProofWorkers:    2,
			DispatchWorkers: 2,
			RateBurst:       1,
		},
		ShutdownGracePeriod: time.Second,
	}
}

type env struct {
	service *app.RelayService
	storage *storage.MemoryStorage
	gw      *gateway.Gateway
	proofs  *mock_relay.MockProofGenerator
}

func newEnv(t *testing.T, source *fakeSource) *env {
	t.Helper()
	logRegistry, err := nlogger.NewRegistry(app.LogContexts()...)
	require.NoError(t, err)

	gw := gateway.New()
	t.Cleanup(gw.Close)
	dest := destination.NewClient(gw.Client(), destination.Config{Timeout: 5 * time.Second}, logRegistry.Get(app.DestinationContext))

	clock, err := slotclock.NewSlotClock(1699999000, 12)
	require.NoError(t, err)

	st := storage.NewMemoryStorage()
	proofs := mock_relay.NewMockProofGenerator(gomock.NewController(t))

	svc, err := app.NewRelayService(testConfig(), logRegistry, app.Collaborators{
		Storage:     st,
		Source:      source,
		Checkpoints: dest,
		Proofs:      proofs,
		Redirector:  dest,
		Clock:       clock,
	})
	require.NoError(t, err)

	return &env{service: svc, storage: st, gw: gw, proofs: proofs}
}

func (e *env) start(t *testing.T) <-chan error {
	t.Helper()
	errs := make(chan error, 1)
	go func() {
		errs <- e.service.Start(context.Background())
	}()
	return errs
}

func (e *env) stop(t *testing.T, errs <-chan error) {
	t.Helper()
	require.NoError(t, e.service.Stop())
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay service did not return")
	}
}

func (e *env) state(t *testing.T, id string) relay.State {
	msg, err := e.service.GetMessage(id)
	if err != nil {
		return ""
	}
	return msg.State
}

func TestDepositIsRelayedEndToEnd(t *testing.T) {
	e := newEnv(t, &fakeSource{latest: 120, events: []relay.DepositEvent{deposit}})
	e.proofs.EXPECT().Generate(gomock.Any(), txHash).Return(proof, nil).Times(1)

	errs := e.start(t)
	id := deposit.ID.String()

	require.Eventually(t, func() bool {
		return e.state(t, id) == relay.StateAwaitingCheckpoint
	}, 5*time.Second, 5*time.Millisecond)

	e.gw.Publish(relay.Checkpoint{Slot: 83, Root: common.HexToHash("0x83")})

	require.Eventually(t, func() bool {
		return e.state(t, id) == relay.StateSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	// the deposit arrived through backfill and the live feed but was delivered once
	redirects := e.gw.Redirects()
	require.Len(t, redirects, 1)
	assert.Equal(t, uint64(83), redirects[0].Slot)
	assert.Equal(t, program, redirects[0].Program)
	assert.Equal(t, []byte(route), []byte(redirects[0].Route))
	assert.Equal(t, id, redirects[0].IdempotencyKey)

	status, err := e.service.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Counts[relay.StateSubmitted])
	assert.Equal(t, uint64(83), status.CurrentSlot)
	assert.Equal(t, uint64(1699999000+83*12), status.CurrentSlotStart)
	assert.Equal(t, common.HexToHash("0x83"), status.CheckpointRoot)
	assert.Equal(t, uint64(120), status.LastProcessedBlock)
	assert.Equal(t, "rlp-v1", status.ProofEncoding)

	e.stop(t, errs)
}

func TestInterruptedDispatchIsRecoveredOnStart(t *testing.T) {
	e := newEnv(t, &fakeSource{latest: 120})
	e.gw.Publish(relay.Checkpoint{Slot: 90})

	id := deposit.ID.String()
	require.NoError(t, e.storage.CreateMessage(&relay.RelayMessage{
		ID:               deposit.ID,
		Event:            deposit,
		RequiredSlot:     83,
		Proof:            proof,
		Attempts:         1,
		State:            relay.StateDispatching,
		DestinationRoute: route,
	}))

	errs := e.start(t)

	require.Eventually(t, func() bool {
		return e.state(t, id) == relay.StateSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	msg, err := e.service.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), msg.Attempts)
	assert.Len(t, e.gw.Redirects(), 1)

	e.stop(t, errs)
}

func TestRequeueFailedMessage(t *testing.T) {
	e := newEnv(t, &fakeSource{latest: 120})
	e.gw.Publish(relay.Checkpoint{Slot: 90})
	e.gw.OnRedirect(func(relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
		return nil, &relay.RedirectError{Kind: relay.RedirectDecodeFailure, Detail: "bad proof"}
	})

	id := deposit.ID.String()
	require.NoError(t, e.storage.CreateMessage(&relay.RelayMessage{
		ID:               deposit.ID,
		Event:            deposit,
		RequiredSlot:     83,
		Proof:            proof,
		State:            relay.StateAwaitingCheckpoint,
		DestinationRoute: route,
	}))

	errs := e.start(t)
	require.Eventually(t, func() bool {
		return e.state(t, id) == relay.StateFailed
	}, 5*time.Second, 5*time.Millisecond)

	failed, err := e.service.ListMessages(relay.StateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, relay.ErrorKindDecodeFailure, failed[0].LastErrorKind)

	e.gw.OnRedirect(func(relay.RedirectRequest) (*relay.DeliveryReceipt, error) {
		return &relay.DeliveryReceipt{DecodedResult: []byte("ok")}, nil
	})
	requeued, err := e.service.Requeue(id)
	require.NoError(t, err)
	assert.Contains(t, requeued.RequeuedFrom, "bad proof")

	_, err = e.service.Requeue("11155111/0x01/0")
	assert.ErrorIs(t, err, relay.ErrMessageNotFound)
	require.Eventually(t, func() bool {
		return e.state(t, id) == relay.StateSubmitted
	}, 5*time.Second, 5*time.Millisecond)

	e.stop(t, errs)
}

func TestStopIsIdempotent(t *testing.T) {
	e := newEnv(t, &fakeSource{latest: 120})
	require.NoError(t, e.service.Stop())

	errs := e.start(t)
	require.Eventually(t, func() bool {
		return e.gw.Subscribers() > 0
	}, 5*time.Second, 5*time.Millisecond)
	e.stop(t, errs)
	require.NoError(t, e.service.Stop())
}

func TestNewRelayServiceRequiresCollaborators(t *testing.T) {
	logRegistry, err := nlogger.NewRegistry(app.LogContexts()...)
	require.NoError(t, err)

	_, err = app.NewRelayService(testConfig(), logRegistry, app.Collaborators{Storage: storage.NewMemoryStorage()})
	assert.Error(t, err)
}
