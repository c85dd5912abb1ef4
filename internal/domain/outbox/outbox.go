package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the processing state of an outbox event
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// OutboxEvent is a row change written in the same transaction as the change
// itself and later published to the change feed.
type OutboxEvent struct {
	ID          uuid.UUID
	Action      string // INSERT, UPDATE, DELETE
	TableName   string
	RecordID    string
	Payload     []byte // JSON of the new (or, for DELETE, old) row
	Status      Status
	RetryCount  int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}
