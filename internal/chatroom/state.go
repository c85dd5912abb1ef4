package chatroom

import (
	"squadlink/internal/domain/message"
)

// State is the lifecycle of the open conversation.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// UpdateKind tells an Observer what changed.
type UpdateKind int

const (
	UpdateOpened UpdateKind = iota
	UpdateLoaded
	UpdateAppended
	UpdateRead
	UpdateStatus
	UpdateFailed
	UpdateSending
	UpdateClosed
)

// Update is delivered to the Observer on the session loop after the change
// has been applied, so View reflects it.
type Update struct {
	Kind       UpdateKind
	RoomID     int64
	Generation uint64

	// UpdateAppended
	Message *message.Message
	Own     bool

	// UpdateStatus, UpdateFailed, UpdateSending
	Connected bool
	Sending   bool
	Err       error
}

// Observer must not call blocking Session methods (Open, Close).
type Observer func(Update)

// View is a consistent copy of the session state.
type View struct {
	RoomID     int64
	Generation uint64
	State      State
	Messages   []message.Message
	Snapshot   message.ReadStateSnapshot
	Connected  bool
	Sending    bool
	Err        error
}
