package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// MemoryStorage is a non-durable Storage used in tests and dry runs.
type MemoryStorage struct {
	mu        sync.Mutex
	messages  map[string]*relay.RelayMessage
	lastBlock *uint64
	lastSlot  *uint64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{messages: make(map[string]*relay.RelayMessage)}
}

func (s *MemoryStorage) CreateMessage(msg *relay.RelayMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := msg.ID.String()
	if _, ok := s.messages[id]; ok {
		return fmt.Errorf("%w: %s", relay.ErrDuplicateMessage, id)
	}
	s.messages[id] = msg.Clone()
	return nil
}

func (s *MemoryStorage) GetMessage(id string) (*relay.RelayMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, false, nil
	}
	return msg.Clone(), true, nil
}

func (s *MemoryStorage) UpdateMessage(msg *relay.RelayMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := msg.ID.String()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("%w: %s", relay.ErrMessageNotFound, id)
	}
	s.messages[id] = msg.Clone()
	return nil
}

func (s *MemoryStorage) ListMessagesByState(state relay.State) ([]*relay.RelayMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*relay.RelayMessage
	for _, msg := range s.messages {
		if msg.State == state {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStorage) CountMessagesByState() (map[relay.State]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[relay.State]int, len(relay.AllStates))
	for _, state := range relay.AllStates {
		counts[state] = 0
	}
	for _, msg := range s.messages {
		counts[msg.State]++
	}
	return counts, nil
}

func (s *MemoryStorage) GetLastProcessedBlock() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastBlock == nil {
		return 0, false, nil
	}
	return *s.lastBlock, true, nil
}

func (s *MemoryStorage) SetLastProcessedBlock(block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBlock = &block
	return nil
}

func (s *MemoryStorage) GetLastCheckpointSlot() (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSlot == nil {
		return 0, false, nil
	}
	return *s.lastSlot, true, nil
}

func (s *MemoryStorage) SetLastCheckpointSlot(slot uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSlot = &slot
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
