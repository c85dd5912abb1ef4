package message

// ReadStateSnapshot is the read state of a history page at the instant it was
// loaded. It is never updated afterwards, so the unread boundary stays where
// it was when the viewer opened the room.
type ReadStateSnapshot struct {
	read map[int64]bool
}

// CaptureReadState copies the IsRead flag of every message.
func CaptureReadState(msgs []Message) ReadStateSnapshot {
	m := make(map[int64]bool, len(msgs))
	for _, msg := range msgs {
		m[msg.ID] = msg.IsRead
	}
	return ReadStateSnapshot{read: m}
}

// Lookup returns the captured read flag and whether id was part of the page.
func (s ReadStateSnapshot) Lookup(id int64) (read bool, present bool) {
	read, present = s.read[id]
	return read, present
}

func (s ReadStateSnapshot) Len() int {
	return len(s.read)
}
