package storage_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutron-org/deposit-relayer/internal/relay"
	"github.com/neutron-org/deposit-relayer/internal/storage"
)

func newMessage(txHash string, logIndex uint) *relay.RelayMessage {
	id := relay.DepositID{ChainID: 1, TxHash: common.HexToHash(txHash), LogIndex: logIndex}
	now := time.Unix(1700000100, 0).UTC()
	return &relay.RelayMessage{
		ID: id,
		Event: relay.DepositEvent{
			ID:             id,
			Depositor:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Amount:         big.NewInt(100000000),
			Recipient:      common.HexToHash("0xbb"),
			BlockNumber:    100,
			BlockHash:      common.HexToHash("0xcc"),
			BlockTimestamp: 1700000000,
		},
		RequiredSlot:     83,
		State:            relay.StatePending,
		DestinationRoute: "staking_receiver/submit_receipt",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testStorage(t *testing.T, s relay.Storage) {
	msg := newMessage("0xabc", 0)
	require.NoError(t, s.CreateMessage(msg))
	assert.ErrorIs(t, s.CreateMessage(msg), relay.ErrDuplicateMessage)

	got, found, err := s.GetMessage(msg.ID.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, 0, msg.Event.Amount.Cmp(got.Event.Amount))
	assert.Equal(t, relay.StatePending, got.State)

	_, found, err = s.GetMessage("1/0x0000000000000000000000000000000000000000000000000000000000000def/0")
	require.NoError(t, err)
	assert.False(t, found)

	other := newMessage("0xabc", 1)
	require.NoError(t, s.CreateMessage(other))

	got.State = relay.StateAwaitingCheckpoint
	got.Proof = []byte{0xc0}
	require.NoError(t, s.UpdateMessage(got))

	pending, err := s.ListMessagesByState(relay.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)

	awaiting, err := s.ListMessagesByState(relay.StateAwaitingCheckpoint)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, []byte{0xc0}, []byte(awaiting[0].Proof))

	counts, err := s.CountMessagesByState()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[relay.StatePending])
	assert.Equal(t, 1, counts[relay.StateAwaitingCheckpoint])
	assert.Equal(t, 0, counts[relay.StateFailed])

	missing := newMessage("0xfff", 0)
	assert.ErrorIs(t, s.UpdateMessage(missing), relay.ErrMessageNotFound)

	_, found, err = s.GetLastProcessedBlock()
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, s.SetLastProcessedBlock(120))
	block, found, err := s.GetLastProcessedBlock()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(120), block)

	require.NoError(t, s.SetLastCheckpointSlot(75))
	slot, found, err := s.GetLastCheckpointSlot()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(75), slot)
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, storage.NewMemoryStorage())
}

func TestLevelDBStorage(t *testing.T) {
	s, err := storage.NewLevelDBStorage(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	testStorage(t, s)
}

func TestLevelDBStoragePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := storage.NewLevelDBStorage(dir)
	require.NoError(t, err)

	msg := newMessage("0xabc", 0)
	require.NoError(t, s.CreateMessage(msg))
	msg.State = relay.StateDispatching
	msg.Attempts = 2
	require.NoError(t, s.UpdateMessage(msg))
	require.NoError(t, s.SetLastProcessedBlock(100))
	require.NoError(t, s.Close())

	s, err = storage.NewLevelDBStorage(dir)
	require.NoError(t, err)
	defer s.Close()

	got, found, err := s.GetMessage(msg.ID.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, relay.StateDispatching, got.State)
	assert.Equal(t, uint32(2), got.Attempts)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))

	dispatching, err := s.ListMessagesByState(relay.StateDispatching)
	require.NoError(t, err)
	assert.Len(t, dispatching, 1)

	block, found, err := s.GetLastProcessedBlock()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(100), block)
}
