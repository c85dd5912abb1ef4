package conversation

import (
	"time"

	"squadlink/internal/domain/message"
)

// Room represents the rooms table
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership represents the room_members table
type Membership struct {
	RoomID   int64     `json:"room_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Profile is the projection of the other participant shown in the list.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Summary is one row of the viewer's conversation list.
type Summary struct {
	RoomID           int64            `json:"room_id"`
	Name             string           `json:"name"`
	OtherParticipant Profile          `json:"other_participant"`
	LastMessage      *message.Message `json:"last_message,omitempty"`
	UnreadCount      int              `json:"unread_count"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// LastActivity is the ordering key of the list: last message time, else the
// room's own update time.
func (s Summary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.UpdatedAt
}

// Clone returns a copy that shares nothing mutable with s.
func (s Summary) Clone() Summary {
	if s.LastMessage != nil {
		lm := *s.LastMessage
		s.LastMessage = &lm
	}
	return s
}
