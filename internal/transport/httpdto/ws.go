package httpdto

import (
	"squadlink/internal/scroll"
	"squadlink/internal/timeline"
)

// Inbound websocket command types
const (
	CommandOpenRoom  = "open_room"
	CommandCloseRoom = "close_room"
	CommandSend      = "send"
	CommandMarkRead  = "mark_read"
	CommandScrolled  = "scrolled"
	CommandAck       = "ack"
	CommandRefresh   = "refresh"
)

// Outbound websocket frame types
const (
	FrameTimeline      = "timeline"
	FrameConversations = "conversations"
	FrameScroll        = "scroll"
	FrameStatus        = "status"
	FrameError         = "error"
)

// Command is one message from the viewer.
type Command struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id,omitempty"`
	RoomID      int64  `json:"room_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Key         string `json:"key,omitempty"`
	AtBottom    bool   `json:"at_bottom,omitempty"`
}

// Frame is one message to the viewer. Which fields are set depends on Type.
type Frame struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	RoomID     int64  `json:"room_id,omitempty"`
	Generation uint64 `json:"generation,omitempty"`

	// timeline
	State string          `json:"state,omitempty"`
	Items []timeline.Item `json:"items,omitempty"`

	// conversations
	Conversations []ConversationDTO `json:"conversations,omitempty"`

	// scroll
	Scroll *scroll.Command `json:"scroll,omitempty"`

	// status
	Connected bool `json:"connected,omitempty"`
	Sending   bool `json:"sending,omitempty"`

	// error
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}
