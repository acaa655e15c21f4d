package slotclock

import (
	"errors"
	"fmt"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// SlotClock maps source block timestamps to beacon slots.
type SlotClock struct {
	genesis        uint64
	secondsPerSlot uint64
}

func NewSlotClock(genesis uint64, secondsPerSlot uint64) (*SlotClock, error) {
	if secondsPerSlot == 0 {
		return nil, errors.New("seconds per slot must be positive")
	}

	return &SlotClock{genesis: genesis, secondsPerSlot: secondsPerSlot}, nil
}

// SlotFor returns floor((timestamp - genesis) / secondsPerSlot).
func (c *SlotClock) SlotFor(timestamp uint64) (uint64, error) {
	if timestamp < c.genesis {
		return 0, fmt.Errorf("%w: %d < %d", relay.ErrInvalidTimestamp, timestamp, c.genesis)
	}

	return (timestamp - c.genesis) / c.secondsPerSlot, nil
}

// TimestampFor returns the timestamp the slot starts at.
func (c *SlotClock) TimestampFor(slot uint64) uint64 {
	return c.genesis + slot*c.secondsPerSlot
}
