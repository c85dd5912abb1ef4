package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/outbox"
	"squadlink/internal/events"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	fk := &pgconn.PgError{Code: "23503"}

	if !isUniqueViolation(unique) || isUniqueViolation(fk) {
		t.Fatalf("unique violation misclassified")
	}
	if !isForeignKeyViolation(fk) || isForeignKeyViolation(unique) {
		t.Fatalf("foreign key violation misclassified")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain error is not a pg error")
	}
}

func TestNewRowEvent(t *testing.T) {
	m := conversation.Membership{RoomID: 7, UserID: "alice"}
	ev, err := newRowEvent(events.ActionInsert, events.TableRoomMembers, membershipRecordID(m), m)
	if err != nil {
		t.Fatalf("newRowEvent: %v", err)
	}
	if ev.Status != outbox.StatusPending || ev.RecordID != "7:alice" || ev.TableName != events.TableRoomMembers {
		t.Fatalf("unexpected event %+v", ev)
	}

	// the payload must resolve to the same channels a subscriber filters on
	channels, err := events.NewColumnChannelResolver().ResolveChannels(events.Envelope{
		Action: ev.Action, Table: ev.TableName, Record: json.RawMessage(ev.Payload),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := events.Channel(events.ActionInsert, events.TableRoomMembers, "user_id", "alice")
	found := false
	for _, ch := range channels {
		if ch == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in %v", want, channels)
	}
}
