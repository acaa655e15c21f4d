package relay

// Storage persists relay messages and the relayer's progress markers.
type Storage interface {
	// CreateMessage stores a new message and returns ErrDuplicateMessage if the id exists.
	CreateMessage(msg *RelayMessage) error
	GetMessage(id string) (msg *RelayMessage, found bool, err error)
	// UpdateMessage overwrites an existing message and moves its state index entry.
	UpdateMessage(msg *RelayMessage) error
	ListMessagesByState(state State) ([]*RelayMessage, error)
	CountMessagesByState() (map[State]int, error)
	GetLastProcessedBlock() (block uint64, found bool, err error)
	SetLastProcessedBlock(block uint64) error
	GetLastCheckpointSlot() (slot uint64, found bool, err error)
	SetLastCheckpointSlot(slot uint64) error
	Close() error
}
