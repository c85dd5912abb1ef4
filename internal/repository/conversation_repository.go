package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
	"squadlink/internal/events"
	squadlink_errors "squadlink/pkg/errors"
)

type PostgresConversationRepository struct {
	db     DBTX
	outbox OutboxRepository
}

func NewConversationRepository(db DBTX, outbox OutboxRepository) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db, outbox: outbox}
}

func (r *PostgresConversationRepository) FetchConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error) {
	query := `
		SELECT
			r.id,
			r.name,
			r.updated_at,
			COALESCE(op.user_id, ''),
			COALESCE(op.display_name, ''),
			COALESCE(op.avatar_url, ''),
			lm.id,
			lm.sender_id,
			lm.content,
			lm.content_type,
			lm.created_at,
			lm.is_read,
			COALESCE(uc.unread_count, 0)
		FROM room_members rm
		JOIN rooms r ON r.id = rm.room_id
		LEFT JOIN LATERAL (
			SELECT p.user_id, p.display_name, p.avatar_url
			FROM room_members om
			JOIN profiles p ON p.user_id = om.user_id
			WHERE om.room_id = r.id AND om.user_id <> $1
			ORDER BY om.joined_at ASC
			LIMIT 1
		) op ON TRUE
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, content_type, created_at, is_read
			FROM messages
			WHERE room_id = r.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages
			WHERE room_id = r.id
			  AND sender_id <> $1
			  AND is_read = FALSE
		) uc ON TRUE
		WHERE rm.user_id = $1
		ORDER BY COALESCE(lm.created_at, r.updated_at) DESC, r.id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]conversation.Summary, 0)
	for rows.Next() {
		var s conversation.Summary
		var (
			messageID   sql.NullInt64
			senderID    sql.NullString
			content     sql.NullString
			contentType sql.NullString
			createdAt   sql.NullTime
			isRead      sql.NullBool
		)
		if err := rows.Scan(
			&s.RoomID,
			&s.Name,
			&s.UpdatedAt,
			&s.OtherParticipant.UserID,
			&s.OtherParticipant.DisplayName,
			&s.OtherParticipant.AvatarURL,
			&messageID,
			&senderID,
			&content,
			&contentType,
			&createdAt,
			&isRead,
			&s.UnreadCount,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			row := message.Row{
				ID:        messageID.Int64,
				RoomID:    s.RoomID,
				SenderID:  senderID.String,
				Content:   content.String,
				CreatedAt: createdAt.Time,
			}
			if contentType.Valid {
				row.ContentType = &contentType.String
			}
			if isRead.Valid {
				row.IsRead = &isRead.Bool
			}
			last := row.Normalize()
			s.LastMessage = &last
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// CreateRoom creates a room with the given members and emits the membership
// events that put it in each member's list.
func (r *PostgresConversationRepository) CreateRoom(ctx context.Context, name string, memberIDs ...string) (conversation.Room, error) {
	var room conversation.Room
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO rooms (name)
			VALUES ($1)
			RETURNING id, name, created_at, updated_at
		`, name).Scan(&room.ID, &room.Name, &room.CreatedAt, &room.UpdatedAt)
		if err != nil {
			return err
		}
		for _, userID := range memberIDs {
			if err := r.addMember(ctx, tx, room.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return conversation.Room{}, err
	}
	return room, nil
}

func (r *PostgresConversationRepository) addMember(ctx context.Context, tx DBTX, roomID int64, userID string) error {
	m := conversation.Membership{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, m.RoomID, m.UserID, m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s already in room %d", squadlink_errors.ErrAlreadyExists, userID, roomID)
		}
		if isForeignKeyViolation(err) {
			return squadlink_errors.ErrNotFound
		}
		return err
	}

	event, err := newRowEvent(events.ActionInsert, events.TableRoomMembers, membershipRecordID(m), m)
	if err != nil {
		return err
	}
	return r.outbox.Create(ctx, tx, event)
}

// UpsertProfile stores the display projection of a user.
func (r *PostgresConversationRepository) UpsertProfile(ctx context.Context, p conversation.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
	`, p.UserID, p.DisplayName, p.AvatarURL)
	return err
}

func membershipRecordID(m conversation.Membership) string {
	return strconv.FormatInt(m.RoomID, 10) + ":" + m.UserID
}
