package relay

import (
	"context"
)

//go:generate mockgen -source=subscriber.go -destination=../../testutil/mocks/relay/subscriber.go -package=mock_relay

// Subscription is a live feed handle. Err delivers at most one error and is closed on
// Unsubscribe.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// EventSource provides deposit events observed on the source chain.
type EventSource interface {
	// SubscribeDeposits streams new deposit events into sink until the subscription fails or is
	// unsubscribed.
	SubscribeDeposits(ctx context.Context, sink chan<- DepositEvent) (Subscription, error)
	// DepositsInRange returns the deposit events of blocks [from, to].
	DepositsInRange(ctx context.Context, from, to uint64) ([]DepositEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// CheckpointSource provides checkpoint announcements from the destination.
type CheckpointSource interface {
	SubscribeCheckpoints(ctx context.Context, sink chan<- Checkpoint) (Subscription, error)
	LatestCheckpoint(ctx context.Context) (Checkpoint, error)
}
