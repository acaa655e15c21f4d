package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

const (
	MessagePrefix      = "msg/"
	StateIndexPrefix   = "state/"
	LastBlockKey       = "meta/last_block"
	LastCheckpointSlot = "meta/last_slot"
)

// LevelDBStorage keeps three groups of keys:
// msg/<id> -> message JSON
// state/<state>/<id> -> empty, an index of messages by state
// meta/* -> progress markers
// A message record and its index entry are always written in one transaction.
type LevelDBStorage struct {
	sync.Mutex
	db *leveldb.DB
}

func NewLevelDBStorage(path string) (*LevelDBStorage, error) {
	database, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	return &LevelDBStorage{db: database}, nil
}

func (s *LevelDBStorage) CreateMessage(msg *relay.RelayMessage) error {
	s.Lock()
	defer s.Unlock()

	id := msg.ID.String()
	exists, err := s.db.Has(messageKey(id), nil)
	if err != nil {
		return fmt.Errorf("failed to check if message exists: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", relay.ErrDuplicateMessage, id)
	}

	t, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open leveldb transaction: %w", err)
	}
	defer t.Discard()

	if err := putMessage(t, id, msg); err != nil {
		return err
	}
	if err := t.Put(stateIndexKey(msg.State, id), nil, nil); err != nil {
		return fmt.Errorf("failed to put state index: %w", err)
	}

	return t.Commit()
}

func (s *LevelDBStorage) GetMessage(id string) (*relay.RelayMessage, bool, error) {
	s.Lock()
	defer s.Unlock()

	return s.getMessage(id)
}

func (s *LevelDBStorage) UpdateMessage(msg *relay.RelayMessage) error {
	s.Lock()
	defer s.Unlock()

	id := msg.ID.String()
	prev, found, err := s.getMessage(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", relay.ErrMessageNotFound, id)
	}

	t, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open leveldb transaction: %w", err)
	}
	defer t.Discard()

	if err := putMessage(t, id, msg); err != nil {
		return err
	}
	if prev.State != msg.State {
		if err := t.Delete(stateIndexKey(prev.State, id), nil); err != nil {
			return fmt.Errorf("failed to remove state index under the key %s: %w", id, err)
		}
		if err := t.Put(stateIndexKey(msg.State, id), nil, nil); err != nil {
			return fmt.Errorf("failed to put state index: %w", err)
		}
	}

	return t.Commit()
}

func (s *LevelDBStorage) ListMessagesByState(state relay.State) ([]*relay.RelayMessage, error) {
	s.Lock()
	defer s.Unlock()

	prefix := []byte(StateIndexPrefix + string(state) + "/")
	iterator := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iterator.Release()

	var ids []string
	for iterator.Next() {
		ids = append(ids, string(iterator.Key()[len(prefix):]))
	}
	if err := iterator.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate state index: %w", err)
	}

	msgs := make([]*relay.RelayMessage, 0, len(ids))
	for _, id := range ids {
		msg, found, err := s.getMessage(id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("state index points to a missing message %s", id)
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (s *LevelDBStorage) CountMessagesByState() (map[relay.State]int, error) {
	s.Lock()
	defer s.Unlock()

	counts := make(map[relay.State]int, len(relay.AllStates))
	for _, state := range relay.AllStates {
		iterator := s.db.NewIterator(util.BytesPrefix([]byte(StateIndexPrefix+string(state)+"/")), nil)
		n := 0
		for iterator.Next() {
			n++
		}
		err := iterator.Error()
		iterator.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate state index: %w", err)
		}
		counts[state] = n
	}

	return counts, nil
}

// GetLastProcessedBlock returns the last source block fully ingested by the watcher
func (s *LevelDBStorage) GetLastProcessedBlock() (uint64, bool, error) {
	return s.getUint([]byte(LastBlockKey))
}

func (s *LevelDBStorage) SetLastProcessedBlock(block uint64) error {
	return s.setUint([]byte(LastBlockKey), block)
}

// GetLastCheckpointSlot returns the highest checkpoint slot seen before the last shutdown
func (s *LevelDBStorage) GetLastCheckpointSlot() (uint64, bool, error) {
	return s.getUint([]byte(LastCheckpointSlot))
}

func (s *LevelDBStorage) SetLastCheckpointSlot(slot uint64) error {
	return s.setUint([]byte(LastCheckpointSlot), slot)
}

func (s *LevelDBStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *LevelDBStorage) getMessage(id string) (*relay.RelayMessage, bool, error) {
	data, err := s.db.Get(messageKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed getting data from db: %w", err)
	}

	var msg relay.RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal data into RelayMessage: %w", err)
	}

	return &msg, true, nil
}

func (s *LevelDBStorage) getUint(key []byte) (uint64, bool, error) {
	s.Lock()
	defer s.Unlock()

	data, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed getting data from db: %w", err)
	}

	res, err := bytesToUint(data)
	if err != nil {
		return 0, false, fmt.Errorf("failed converting bytes to uint: %w", err)
	}

	return res, true, nil
}

func (s *LevelDBStorage) setUint(key []byte, value uint64) error {
	s.Lock()
	defer s.Unlock()

	return s.db.Put(key, uintToBytes(value), nil)
}

func putMessage(t *leveldb.Transaction, id string, msg *relay.RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal RelayMessage: %w", err)
	}

	if err := t.Put(messageKey(id), data, nil); err != nil {
		return fmt.Errorf("failed to put message %s: %w", id, err)
	}

	return nil
}

func messageKey(id string) []byte {
	return []byte(MessagePrefix + id)
}

func stateIndexKey(state relay.State, id string) []byte {
	return []byte(StateIndexPrefix + string(state) + "/" + id)
}

func uintToBytes(num uint64) []byte {
	return []byte(strconv.FormatUint(num, 10))
}

func bytesToUint(bytes []byte) (uint64, error) {
	num, err := strconv.ParseUint(string(bytes), 10, 64)
	if err != nil {
		return 0, err
	}

	return num, nil
}
