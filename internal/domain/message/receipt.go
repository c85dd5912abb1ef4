package message

import "time"

// ReadReceipt is one row of message_reads, written when a viewer marks a room
// read. MessageID is the newest message covered by the receipt.
type ReadReceipt struct {
	MessageID int64     `json:"message_id"`
	RoomID    int64     `json:"room_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
