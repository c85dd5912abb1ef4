package events

import (
	"encoding/json"
	"time"
)

// Envelope is one row event as published on the change feed.
type Envelope struct {
	EventID    string          `json:"event_id"`
	Action     string          `json:"action"`
	Table      string          `json:"table"`
	RecordID   string          `json:"record_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Record     json.RawMessage `json:"record"`
}

// Decode unmarshals the row carried by the envelope into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Record, v)
}
