package relay

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// State is a relay message lifecycle state.
type State string

const (
	StatePending            State = "Pending"
	StateProofReady         State = "ProofReady"
	StateAwaitingCheckpoint State = "AwaitingCheckpoint"
	StateDispatching        State = "Dispatching"
	StateSubmitted          State = "Submitted"
	StateFailed             State = "Failed"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StatePending,
	StateProofReady,
	StateAwaitingCheckpoint,
	StateDispatching,
	StateSubmitted,
	StateFailed,
}

// IsTerminal returns true for states a message never leaves automatically.
func (s State) IsTerminal() bool {
	return s == StateSubmitted || s == StateFailed
}

func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown message state %q", s)
}

// DepositID identifies a deposit event on the source chain. Its string form is used as the
// storage key and as the idempotency key on the destination.
type DepositID struct {
	ChainID  uint64
	TxHash   common.Hash
	LogIndex uint
}

func (id DepositID) String() string {
	return fmt.Sprintf("%d/%s/%d", id.ChainID, id.TxHash.Hex(), id.LogIndex)
}

func (id DepositID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *DepositID) UnmarshalText(text []byte) error {
	parsed, err := ParseDepositID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseDepositID parses the <chainId>/<txHash>/<logIndex> form.
func ParseDepositID(s string) (DepositID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return DepositID{}, fmt.Errorf("malformed deposit id %q", s)
	}

	chainID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return DepositID{}, fmt.Errorf("failed to parse chain id of %q: %w", s, err)
	}

	hash, err := hexutil.Decode(parts[1])
	if err != nil || len(hash) != common.HashLength {
		return DepositID{}, fmt.Errorf("malformed tx hash in deposit id %q", s)
	}

	logIndex, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return DepositID{}, fmt.Errorf("failed to parse log index of %q: %w", s, err)
	}

	return DepositID{ChainID: chainID, TxHash: common.BytesToHash(hash), LogIndex: uint(logIndex)}, nil
}

// DepositEvent is an observed DepositForStaking log. Never mutated after capture.
type DepositEvent struct {
	ID             DepositID      `json:"id"`
	Depositor      common.Address `json:"depositor"`
	Amount         *big.Int       `json:"amount"`
	Recipient      common.Hash    `json:"recipient"`
	BlockNumber    uint64         `json:"block_number"`
	BlockHash      common.Hash    `json:"block_hash"`
	BlockTimestamp uint64         `json:"block_timestamp"`
	// Removed is set for logs reverted by a reorg.
	Removed bool `json:"-"`
}

// RelayMessage is the durable unit of work for one deposit.
type RelayMessage struct {
	ID               DepositID     `json:"id"`
	Event            DepositEvent  `json:"event"`
	RequiredSlot     uint64        `json:"required_slot"`
	Proof            hexutil.Bytes `json:"proof,omitempty"`
	Attempts         uint32        `json:"attempts"`
	LastError        string        `json:"last_error,omitempty"`
	LastErrorKind    ErrorKind     `json:"last_error_kind,omitempty"`
	State            State         `json:"state"`
	DestinationRoute string        `json:"destination_route"`
	NextAttemptAt    time.Time     `json:"next_attempt_at"`
	RequeuedFrom     string        `json:"requeued_from,omitempty"`
	Result           hexutil.Bytes `json:"result,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers can never mutate queue-owned state.
func (m *RelayMessage) Clone() *RelayMessage {
	out := *m
	if m.Event.Amount != nil {
		out.Event.Amount = new(big.Int).Set(m.Event.Amount)
	}
	if m.Proof != nil {
		out.Proof = append(hexutil.Bytes(nil), m.Proof...)
	}
	if m.Result != nil {
		out.Result = append(hexutil.Bytes(nil), m.Result...)
	}
	return &out
}

// Checkpoint is a finalized source slot announced by the destination.
type Checkpoint struct {
	Slot uint64      `json:"slot"`
	Root common.Hash `json:"root"`
}

// RedirectRequest is the payload handed to the destination redirect service.
type RedirectRequest struct {
	Slot           uint64        `json:"slot"`
	Proof          hexutil.Bytes `json:"proof"`
	Program        string        `json:"program"`
	Route          hexutil.Bytes `json:"route"`
	IdempotencyKey string        `json:"idempotencyKey"`
}

// DeliveryReceipt is returned by the destination for an accepted redirect.
type DeliveryReceipt struct {
	DecodedResult hexutil.Bytes `json:"decodedResult"`
}

// ServiceStatus is a point-in-time view of the relayer.
type ServiceStatus struct {
	Counts      map[State]int `json:"counts"`
	CurrentSlot uint64        `json:"current_slot"`
	// CurrentSlotStart is the source chain timestamp the current slot starts at.
	CurrentSlotStart   uint64      `json:"current_slot_start"`
	CheckpointRoot     common.Hash `json:"checkpoint_root"`
	LastProcessedBlock uint64      `json:"last_processed_block"`
	// ProofEncoding names the proof wire format the relayer submits.
	ProofEncoding string `json:"proof_encoding"`
}
