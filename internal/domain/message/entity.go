package message

import (
	"time"
)

// ContentType classifies how a message body is rendered.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentImage  ContentType = "image"
	ContentSystem ContentType = "system"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentSystem:
		return true
	}
	return false
}

// Message is a fully populated chat entry. ID is assigned by the store and is
// the dedup key within a conversation.
type Message struct {
	ID          int64       `json:"id"`
	RoomID      int64       `json:"room_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	CreatedAt   time.Time   `json:"created_at"`
	IsRead      bool        `json:"is_read"`
}

// Row is the message record as it arrives from the store or the change feed.
// Optional columns may be missing.
type Row struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"room_id"`
	SenderID    string    `json:"sender_id"`
	Content     string    `json:"content"`
	ContentType *string   `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      *bool     `json:"is_read,omitempty"`
}

// Normalize fills in defaults for missing or unknown optional columns.
func (r Row) Normalize() Message {
	ct := ContentText
	if r.ContentType != nil {
		if c := ContentType(*r.ContentType); c.Valid() {
			ct = c
		}
	}
	read := false
	if r.IsRead != nil {
		read = *r.IsRead
	}
	return Message{
		ID:          r.ID,
		RoomID:      r.RoomID,
		SenderID:    r.SenderID,
		Content:     r.Content,
		ContentType: ct,
		CreatedAt:   r.CreatedAt,
		IsRead:      read,
	}
}

// NormalizeRows normalizes a page of rows, preserving order.
func NormalizeRows(rows []Row) []Message {
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = r.Normalize()
	}
	return out
}
