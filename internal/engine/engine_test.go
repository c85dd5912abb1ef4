package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"squadlink/internal/changefeed"
	"squadlink/internal/config"
	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
	"squadlink/internal/events"
	"squadlink/internal/scroll"
	"squadlink/internal/timeline"
	"squadlink/internal/transport/httpdto"
	squadlink_errors "squadlink/pkg/errors"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type stubStore struct {
	mu       sync.Mutex
	history  map[int64][]message.Row
	rooms    map[int64]bool
	nextID   int64
	receipts int
	listGate chan struct{}
}

func newStubStore() *stubStore {
	return &stubStore{
		history: make(map[int64][]message.Row),
		rooms:   make(map[int64]bool),
		nextID:  100,
	}
}

func (s *stubStore) FetchMessages(ctx context.Context, roomID int64, limit, offset int) ([]message.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.history[roomID]
	out := make([]message.Row, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *stubStore) InsertMessage(ctx context.Context, roomID int64, senderID, content string, contentType message.ContentType) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return message.Message{ID: s.nextID, RoomID: roomID, SenderID: senderID, Content: content, ContentType: contentType, CreatedAt: time.Now()}, nil
}

func (s *stubStore) InsertReadReceipt(ctx context.Context, roomID int64, viewerID string) error {
	s.mu.Lock()
	s.receipts++
	s.mu.Unlock()
	return nil
}

func (s *stubStore) FetchConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error) {
	s.mu.Lock()
	gate := s.listGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Summary
	for id := range s.rooms {
		out = append(out, conversation.Summary{RoomID: id, Name: "squad", UpdatedAt: base})
	}
	return out, nil
}

func (s *stubStore) RoomIDForMessage(ctx context.Context, messageID int64) (int64, error) {
	return 0, errors.New("not found")
}

func (s *stubStore) removeRoom(id int64) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	frames []httpdto.Frame
}

func (r *recordingSink) Send(f httpdto.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recordingSink) find(match func(httpdto.Frame) bool) (httpdto.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if match(r.frames[i]) {
			return r.frames[i], true
		}
	}
	return httpdto.Frame{}, false
}

func waitFrame(t *testing.T, sink *recordingSink, what string, match func(httpdto.Frame) bool) httpdto.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := sink.find(match); ok {
			return f
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return httpdto.Frame{}
}

func boolPtr(b bool) *bool { return &b }

type harness struct {
	store *stubStore
	feed  *changefeed.MemoryFeed
	sink  *recordingSink
	eng   *Engine
}

func newHarness(t *testing.T, anchorRetry time.Duration) *harness {
	t.Helper()
	h := &harness{store: newStubStore(), feed: changefeed.NewMemoryFeed(), sink: &recordingSink{}}
	h.store.rooms[7] = true
	// newest first
	h.store.history[7] = []message.Row{
		{ID: 2, RoomID: 7, SenderID: "bob", Content: "you up?", CreatedAt: base.Add(time.Minute), IsRead: boolPtr(false)},
		{ID: 1, RoomID: 7, SenderID: "bob", Content: "gg", CreatedAt: base, IsRead: boolPtr(true)},
	}

	cfg := config.Default()
	cfg.DebounceWindow = 20 * time.Millisecond
	cfg.AnchorRetryInterval = anchorRetry
	h.eng = New("alice", h.sink, Deps{Store: h.store, Feed: h.feed, Sync: cfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitFrame(t, h.sink, "conversation list", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameConversations && len(f.Conversations) == 1
	})
	return h
}

func (h *harness) openRoom(t *testing.T, roomID int64) httpdto.Frame {
	t.Helper()
	if err := h.eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandOpenRoom, RoomID: roomID}); err != nil {
		t.Fatalf("open room: %v", err)
	}
	return waitFrame(t, h.sink, "ready timeline", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameTimeline && f.RoomID == roomID && f.State == "ready"
	})
}

func TestOpenRoomStreamsFormattedTimeline(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	f := h.openRoom(t, 7)

	var kinds []timeline.Kind
	for _, it := range f.Items {
		kinds = append(kinds, it.Kind)
	}
	want := []timeline.Kind{timeline.KindMessage, timeline.KindUnreadDivider, timeline.KindMessage}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestInitialAnchorWaitsForUnreadDivider(t *testing.T) {
	h := newHarness(t, time.Second)
	h.openRoom(t, 7)

	if err := h.eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandAck, Key: timeline.UnreadKey}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	f := waitFrame(t, h.sink, "anchor", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameScroll
	})
	if f.Scroll.Target != scroll.TargetKey || f.Scroll.Key != timeline.UnreadKey {
		t.Fatalf("expected anchor on the unread divider, got %+v", f.Scroll)
	}
}

func TestAnchorFallsBackToBottom(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.openRoom(t, 7)

	f := waitFrame(t, h.sink, "fallback anchor", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameScroll
	})
	if f.Scroll.Target != scroll.TargetBottom {
		t.Fatalf("expected bottom fallback, got %+v", f.Scroll)
	}
}

func TestInboundMessageAppendsToTimeline(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.openRoom(t, 7)

	raw, _ := json.Marshal(message.Row{ID: 3, RoomID: 7, SenderID: "bob", Content: "queue?", CreatedAt: base.Add(2 * time.Minute)})
	if err := h.feed.Emit(context.Background(), events.Envelope{Action: events.ActionInsert, Table: events.TableMessages, Record: raw}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	waitFrame(t, h.sink, "appended message", func(f httpdto.Frame) bool {
		if f.Type != httpdto.FrameTimeline {
			return false
		}
		for _, it := range f.Items {
			if it.Key == timeline.MessageKey(3) {
				return true
			}
		}
		return false
	})
}

func TestOpenUnknownRoomIsRejected(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	err := h.eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandOpenRoom, RoomID: 99})
	if !errors.Is(err, squadlink_errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRoomWaitsForFirstListLoad(t *testing.T) {
	store := newStubStore()
	store.rooms[7] = true
	store.listGate = make(chan struct{})
	sink := &recordingSink{}
	eng := New("alice", sink, Deps{Store: store, Feed: changefeed.NewMemoryFeed()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	opened := make(chan error, 1)
	go func() {
		opened <- eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandOpenRoom, RoomID: 7})
	}()
	select {
	case err := <-opened:
		t.Fatalf("open returned before the list loaded: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	close(store.listGate)
	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open after list load: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("open never returned")
	}
	waitFrame(t, sink, "ready timeline", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameTimeline && f.RoomID == 7 && f.State == "ready"
	})
}

func TestOpenRoomGivesUpWithCaller(t *testing.T) {
	store := newStubStore()
	store.rooms[7] = true
	store.listGate = make(chan struct{})
	t.Cleanup(func() { close(store.listGate) })
	eng := New("alice", &recordingSink{}, Deps{Store: store, Feed: changefeed.NewMemoryFeed()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := eng.Handle(ctx, httpdto.Command{Type: httpdto.CommandOpenRoom, RoomID: 7})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRemovedRoomClosesConversation(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.openRoom(t, 7)

	h.store.removeRoom(7)
	if err := h.eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandRefresh}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	waitFrame(t, h.sink, "closed timeline", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameTimeline && f.RoomID == 0 && f.State == "idle"
	})
}

func TestSendErrorBecomesErrorFrame(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.openRoom(t, 7)

	if err := h.eng.Handle(context.Background(), httpdto.Command{Type: httpdto.CommandSend, RequestID: "r1", Content: "   "}); err != nil {
		t.Fatalf("send: %v", err)
	}
	f := waitFrame(t, h.sink, "error frame", func(f httpdto.Frame) bool {
		return f.Type == httpdto.FrameError && f.RequestID == "r1"
	})
	if f.Code != "EMPTY_CONTENT" {
		t.Fatalf("expected EMPTY_CONTENT, got %q", f.Code)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	err := h.eng.Handle(context.Background(), httpdto.Command{Type: "explode"})
	if !squadlink_errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		squadlink_errors.ErrNoActiveConversation: "NO_ACTIVE_CONVERSATION",
		squadlink_errors.ErrSubscriptionFailed:   "NOT_LIVE",
		squadlink_errors.ErrRateLimited:          "RATE_LIMITED",
		errors.New("boom"):                        "INTERNAL_ERROR",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Errorf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
