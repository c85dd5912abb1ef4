package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"squadlink/internal/domain/message"
	"squadlink/internal/events"
	squadlink_errors "squadlink/pkg/errors"
)

type messageRepository struct {
	db     DBTX
	outbox OutboxRepository
}

func NewMessageRepository(db DBTX, outbox OutboxRepository) MessageRepository {
	return &messageRepository{db: db, outbox: outbox}
}

func (r *messageRepository) FetchMessages(ctx context.Context, roomID int64, limit, offset int) ([]message.Row, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", squadlink_errors.ErrInvalidInput)
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, room_id, sender_id, content, content_type, created_at, is_read
        FROM messages
        WHERE room_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]message.Row, 0, limit)
	for rows.Next() {
		var row message.Row
		if err := rows.Scan(
			&row.ID,
			&row.RoomID,
			&row.SenderID,
			&row.Content,
			&row.ContentType,
			&row.CreatedAt,
			&row.IsRead,
		); err != nil {
			return nil, err
		}
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// InsertMessage fails with ErrForbidden if senderID is not a member of the room.
func (r *messageRepository) InsertMessage(ctx context.Context, roomID int64, senderID, content string, contentType message.ContentType) (message.Message, error) {
	var msg message.Message
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		err := tx.QueryRowContext(ctx, `
            INSERT INTO messages (room_id, sender_id, content, content_type)
            SELECT $1::bigint, $2::text, $3::text, $4::text
            WHERE EXISTS (SELECT 1 FROM room_members WHERE room_id = $1::bigint AND user_id = $2::text)
            RETURNING id, room_id, sender_id, content, content_type, created_at, is_read
        `, roomID, senderID, content, string(contentType)).Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.Content,
			&msg.ContentType,
			&msg.CreatedAt,
			&msg.IsRead,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s is not a member of room %d", squadlink_errors.ErrForbidden, senderID, roomID)
		}
		if err != nil {
			if isForeignKeyViolation(err) {
				return squadlink_errors.ErrNotFound
			}
			return err
		}

		event, err := newRowEvent(events.ActionInsert, events.TableMessages, strconv.FormatInt(msg.ID, 10), msg)
		if err != nil {
			return err
		}
		return r.outbox.Create(ctx, tx, event)
	})
	if err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

func (r *messageRepository) InsertReadReceipt(ctx context.Context, roomID int64, viewerID string) error {
	return WithTx(ctx, r.db, func(tx DBTX) error {
		rows, err := tx.QueryContext(ctx, `
            UPDATE messages
            SET is_read = TRUE
            WHERE room_id = $1
              AND sender_id <> $2
              AND is_read = FALSE
              AND EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)
            RETURNING id
        `, roomID, viewerID)
		if err != nil {
			return err
		}
		var newest int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if id > newest {
				newest = id
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
		if newest == 0 {
			return nil
		}

		receipt := message.ReadReceipt{MessageID: newest, RoomID: roomID, UserID: viewerID, ReadAt: time.Now().UTC()}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO message_reads (message_id, room_id, user_id, read_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at
        `, receipt.MessageID, receipt.RoomID, receipt.UserID, receipt.ReadAt)
		if err != nil {
			return err
		}

		event, err := newRowEvent(events.ActionInsert, events.TableMessageReads, strconv.FormatInt(newest, 10), receipt)
		if err != nil {
			return err
		}
		return r.outbox.Create(ctx, tx, event)
	})
}

func (r *messageRepository) RoomIDForMessage(ctx context.Context, messageID int64) (int64, error) {
	var roomID int64
	err := r.db.QueryRowContext(ctx, `SELECT room_id FROM messages WHERE id = $1`, messageID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, squadlink_errors.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return roomID, nil
}
