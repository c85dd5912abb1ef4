package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"squadlink/internal/changefeed"
	domainoutbox "squadlink/internal/domain/outbox"
	"squadlink/internal/events"

	"github.com/google/uuid"
)

type stubRepo struct {
	mu        sync.Mutex
	pending   []domainoutbox.OutboxEvent
	claimed   map[string]bool
	completed []string
	failed    []string
	retried   []string
}

func newStubRepo(evs ...domainoutbox.OutboxEvent) *stubRepo {
	return &stubRepo{pending: evs, claimed: make(map[string]bool)}
}

func (r *stubRepo) GetPending(ctx context.Context, limit int) ([]domainoutbox.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domainoutbox.OutboxEvent
	for _, ev := range r.pending {
		if !r.claimed[ev.ID.String()] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *stubRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[id] {
		return false, nil
	}
	r.claimed[id] = true
	return true, nil
}

func (r *stubRepo) MarkCompleted(ctx context.Context, id string) error {
	r.mu.Lock()
	r.completed = append(r.completed, id)
	r.mu.Unlock()
	return nil
}

func (r *stubRepo) MarkFailed(ctx context.Context, id string, errorMsg string) error {
	r.mu.Lock()
	r.failed = append(r.failed, id)
	r.mu.Unlock()
	return nil
}

func (r *stubRepo) IncrementRetry(ctx context.Context, id string, errorMsg string) error {
	r.mu.Lock()
	r.retried = append(r.retried, id)
	delete(r.claimed, id)
	r.mu.Unlock()
	return nil
}

func (r *stubRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("redis down")
}

func rowEvent(t *testing.T, action, table string, row any) domainoutbox.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return domainoutbox.OutboxEvent{
		ID:        uuid.New(),
		Action:    action,
		TableName: table,
		Payload:   payload,
		Status:    domainoutbox.StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestProcessBatchPublishesToFilteredSubscribers(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	var mu sync.Mutex
	var got []events.Envelope
	filter := changefeed.Filter{Action: events.ActionInsert, Table: events.TableMessages, Column: "room_id", Value: "7"}
	if _, err := feed.Subscribe(context.Background(), filter, func(env events.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	}, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	inRoom := rowEvent(t, events.ActionInsert, events.TableMessages, map[string]any{"id": 1, "room_id": 7})
	otherRoom := rowEvent(t, events.ActionInsert, events.TableMessages, map[string]any{"id": 2, "room_id": 8})
	repo := newStubRepo(inRoom, otherRoom)
	p := NewProcessor(repo, feed, Options{})

	if n := p.ProcessBatch(context.Background()); n != 2 {
		t.Fatalf("expected 2 published, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].EventID != inRoom.ID.String() {
		t.Fatalf("expected only room 7's event, got %+v", got)
	}
	if len(repo.completed) != 2 {
		t.Fatalf("expected both events completed, got %v", repo.completed)
	}
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	ev := rowEvent(t, events.ActionInsert, events.TableMessages, map[string]any{"id": 1, "room_id": 7})
	repo := newStubRepo(ev)
	p := NewProcessor(repo, failingPublisher{}, Options{MaxRetries: 2})

	p.ProcessBatch(context.Background())
	if len(repo.retried) != 1 || len(repo.failed) != 0 {
		t.Fatalf("first failure must requeue, retried=%v failed=%v", repo.retried, repo.failed)
	}

	repo.mu.Lock()
	repo.pending[0].RetryCount = 1
	repo.mu.Unlock()
	p.ProcessBatch(context.Background())
	if len(repo.failed) != 1 {
		t.Fatalf("exhausted event must be marked failed, failed=%v", repo.failed)
	}
}

func TestUnresolvablePayloadFailsImmediately(t *testing.T) {
	ev := rowEvent(t, events.ActionInsert, events.TableMessages, map[string]any{"id": 1})
	ev.Payload = []byte(`"not an object"`)
	repo := newStubRepo(ev)
	p := NewProcessor(repo, changefeed.NewMemoryFeed(), Options{})

	p.ProcessBatch(context.Background())
	if len(repo.failed) != 1 || len(repo.retried) != 0 {
		t.Fatalf("expected immediate failure, failed=%v retried=%v", repo.failed, repo.retried)
	}
}

func TestStartStop(t *testing.T) {
	ev := rowEvent(t, events.ActionUpdate, events.TableRooms, map[string]any{"id": 3})
	repo := newStubRepo(ev)
	p := NewProcessor(repo, changefeed.NewMemoryFeed(), Options{Interval: 5 * time.Millisecond})
	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		repo.mu.Lock()
		done := len(repo.completed) == 1
		repo.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.completed) != 1 {
		t.Fatalf("expected the event to be published by the loop, got %v", repo.completed)
	}
}
