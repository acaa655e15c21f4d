package relay

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

//go:generate mockgen -source=dispatcher.go -destination=../../testutil/mocks/relay/dispatcher.go -package=mock_relay

// ProofGenerator builds a serialized receipt inclusion proof for a source transaction.
type ProofGenerator interface {
	Generate(ctx context.Context, txHash common.Hash) ([]byte, error)
}

// Redirector delivers a proof to the destination through the redirect service.
type Redirector interface {
	Redirect(ctx context.Context, req RedirectRequest) (*DeliveryReceipt, error)
}

// FinalityChecker answers whether a source slot is covered by a finalized checkpoint.
type FinalityChecker interface {
	IsFinalized(slot uint64) bool
	CurrentSlot() uint64
}
