package repository

import (
	"context"
	"time"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
	"squadlink/internal/domain/outbox"
)

type MessageRepository interface {
	// FetchMessages returns one page of a room's messages, newest first.
	FetchMessages(ctx context.Context, roomID int64, limit, offset int) ([]message.Row, error)
	// InsertMessage stores a message and its change event in one transaction.
	InsertMessage(ctx context.Context, roomID int64, senderID, content string, contentType message.ContentType) (message.Message, error)
	// InsertReadReceipt marks every message in the room not sent by viewerID
	// as read and records one receipt per message.
	InsertReadReceipt(ctx context.Context, roomID int64, viewerID string) error
	RoomIDForMessage(ctx context.Context, messageID int64) (int64, error)
}

type ConversationRepository interface {
	// FetchConversations returns every room viewerID belongs to, most recent
	// activity first.
	FetchConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, tx DBTX, event *outbox.OutboxEvent) error
	GetPending(ctx context.Context, limit int) ([]outbox.OutboxEvent, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errorMsg string) error
	IncrementRetry(ctx context.Context, id string, errorMsg string) error
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
