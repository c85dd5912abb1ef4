package changefeed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"squadlink/internal/events"
	squadlink_errors "squadlink/pkg/errors"
)

type recorder struct {
	mu       sync.Mutex
	events   []events.Envelope
	statuses []Status
	errs     []error
}

func (r *recorder) onEvent(env events.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
}

func (r *recorder) onStatus(s Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	r.errs = append(r.errs, err)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) lastStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func roomFilter(id string) Filter {
	return Filter{Action: events.ActionInsert, Table: events.TableMessages, Column: "room_id", Value: id}
}

func messageEnvelope(t *testing.T, roomID int64) events.Envelope {
	t.Helper()
	return events.Envelope{
		Action:     events.ActionInsert,
		Table:      events.TableMessages,
		OccurredAt: time.Now(),
		Record:     []byte(`{"id":1,"room_id":` + strconv.FormatInt(roomID, 10) + `,"sender_id":"u1","content":"hi"}`),
	}
}

func TestOpenDeliversMatchingEvents(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, nil)
	rec := &recorder{}

	h := m.Open(context.Background(), Key{"room", "7"}, roomFilter("7"), rec.onEvent, rec.onStatus)
	if h == nil {
		t.Fatalf("expected handle")
	}
	if rec.lastStatus() != StatusConnected {
		t.Fatalf("expected CONNECTED, got %q", rec.lastStatus())
	}

	if err := feed.Emit(context.Background(), messageEnvelope(t, 7)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := feed.Emit(context.Background(), messageEnvelope(t, 8)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if rec.eventCount() != 1 {
		t.Fatalf("expected 1 event for room 7, got %d", rec.eventCount())
	}
}

func TestOpenSameKeyReplacesPreviousHandle(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, nil)
	first := &recorder{}
	second := &recorder{}
	key := Key{"room", "7"}

	h1 := m.Open(context.Background(), key, roomFilter("7"), first.onEvent, first.onStatus)
	h2 := m.Open(context.Background(), key, roomFilter("7"), second.onEvent, second.onStatus)

	if h2.Generation <= h1.Generation {
		t.Fatalf("generation must advance: %d then %d", h1.Generation, h2.Generation)
	}
	if m.Live(key) != h2 {
		t.Fatalf("second handle must be live")
	}
	if n := feed.Subscribers(roomFilter("7").Channel()); n != 1 {
		t.Fatalf("expected exactly one transport subscription, got %d", n)
	}

	_ = feed.Emit(context.Background(), messageEnvelope(t, 7))
	if first.eventCount() != 0 || second.eventCount() != 1 {
		t.Fatalf("delivery went to the wrong handle: first=%d second=%d", first.eventCount(), second.eventCount())
	}
	if first.lastStatus() != StatusConnected {
		t.Fatalf("replaced handle must not see a CLOSED status, got %q", first.lastStatus())
	}
}

func TestSetupFailureReportedSynchronously(t *testing.T) {
	feed := NewMemoryFeed()
	feed.FailNextSubscribe(errors.New("dial refused"))
	m := NewManager(feed, nil)
	rec := &recorder{}

	h := m.Open(context.Background(), Key{"room", "7"}, roomFilter("7"), rec.onEvent, rec.onStatus)
	if h != nil {
		t.Fatalf("expected nil handle on setup failure")
	}
	if rec.lastStatus() != StatusError {
		t.Fatalf("expected ERROR, got %q", rec.lastStatus())
	}
	if !errors.Is(rec.errs[len(rec.errs)-1], squadlink_errors.ErrSubscriptionFailed) {
		t.Fatalf("expected ErrSubscriptionFailed, got %v", rec.errs)
	}
	if m.Live(Key{"room", "7"}) != nil {
		t.Fatalf("failed handle must not stay live")
	}
}

func TestTransportErrorClearsHandle(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, nil)
	rec := &recorder{}
	key := Key{"room", "7"}

	m.Open(context.Background(), key, roomFilter("7"), rec.onEvent, rec.onStatus)
	feed.Fail(roomFilter("7"), errors.New("connection reset"))

	if rec.lastStatus() != StatusError {
		t.Fatalf("expected ERROR, got %q", rec.lastStatus())
	}
	if m.Live(key) != nil {
		t.Fatalf("handle must be cleared before the owner sees ERROR")
	}
	_ = feed.Emit(context.Background(), messageEnvelope(t, 7))
	if rec.eventCount() != 0 {
		t.Fatalf("no delivery after ERROR")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, nil)
	rec := &recorder{}

	h := m.Open(context.Background(), Key{"room", "7"}, roomFilter("7"), rec.onEvent, rec.onStatus)
	m.Close(h)
	m.Close(h)

	_ = feed.Emit(context.Background(), messageEnvelope(t, 7))
	if rec.eventCount() != 0 {
		t.Fatalf("closed handle delivered %d events", rec.eventCount())
	}
	if n := feed.Subscribers(roomFilter("7").Channel()); n != 0 {
		t.Fatalf("expected transport subscription removed, got %d", n)
	}
}

func TestCloseAllAndPatternFilters(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, nil)
	column := &recorder{}
	table := &recorder{}

	m.Open(context.Background(), Key{"list", "messages"},
		Filter{Action: events.ActionInsert, Table: events.TableMessages, Column: "room_id"}, column.onEvent, column.onStatus)
	m.Open(context.Background(), Key{"list", "all"},
		Filter{Action: events.ActionInsert, Table: events.TableMessages}, table.onEvent, table.onStatus)

	_ = feed.Emit(context.Background(), messageEnvelope(t, 3))
	_ = feed.Emit(context.Background(), messageEnvelope(t, 4))
	if column.eventCount() != 2 || table.eventCount() != 2 {
		t.Fatalf("expected each wildcard subscriber to see both events, got %d and %d", column.eventCount(), table.eventCount())
	}

	m.CloseAll()
	_ = feed.Emit(context.Background(), messageEnvelope(t, 5))
	if column.eventCount() != 2 || table.eventCount() != 2 {
		t.Fatalf("delivery after CloseAll")
	}
}
