package chatroom

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"squadlink/internal/changefeed"
	"squadlink/internal/domain/message"
	"squadlink/internal/events"
	"squadlink/internal/metrics"
	squadlink_errors "squadlink/pkg/errors"

	"go.uber.org/zap"
)

// Store is the part of the persistent store a session needs.
type Store interface {
	// FetchMessages returns the newest messages of a room, newest first.
	FetchMessages(ctx context.Context, roomID int64, limit, offset int) ([]message.Row, error)
	InsertMessage(ctx context.Context, roomID int64, senderID, content string, contentType message.ContentType) (message.Message, error)
	InsertReadReceipt(ctx context.Context, roomID int64, viewerID string) error
}

// UnreadMarker is the optimistic unread contract of the conversation list.
type UnreadMarker interface {
	MarkRoomAsReadOptimistic(roomID int64)
}

type Options struct {
	ViewerID  string
	Store     Store
	Feed      changefeed.Feed
	Unread    UnreadMarker
	Observer  Observer
	PageSize  int
	QueueSize int
	// ReadTimeout bounds the fire-and-forget read receipt call.
	ReadTimeout time.Duration
	Log         *zap.Logger
}

// Session merges history, live feed events and the echo of local sends into
// one ordered, deduplicated message set for the open conversation. All state
// is owned by the goroutine running Run; every other method posts work to it.
type Session struct {
	viewerID    string
	store       Store
	feeds       *changefeed.Manager
	unread      UnreadMarker
	observer    Observer
	pageSize    int
	readTimeout time.Duration
	log         *zap.Logger

	queue chan func()
	done  chan struct{}

	// current mirrors generation for goroutines off the loop.
	current atomic.Uint64
	subMu   sync.Mutex
	sending atomic.Bool

	// loop-owned
	ctx        context.Context
	generation uint64
	roomID     int64
	state      State
	messages   []message.Message
	pending    []message.Message
	registry   *dedupRegistry
	snapshot   message.ReadStateSnapshot
	connected  bool
	err        error

	viewMu sync.RWMutex
	view   View
}

func NewSession(opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Session{
		viewerID:    opts.ViewerID,
		store:       opts.Store,
		feeds:       changefeed.NewManager(opts.Feed, opts.Log),
		unread:      opts.Unread,
		observer:    opts.Observer,
		pageSize:    opts.PageSize,
		readTimeout: opts.ReadTimeout,
		log:         opts.Log,
		queue:       make(chan func(), opts.QueueSize),
		done:        make(chan struct{}),
		ctx:         context.Background(),
		registry:    newDedupRegistry(),
	}
}

// Run processes queued work until ctx is cancelled, then tears down the live
// subscription.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) error {
	ran := make(chan struct{})
	if !s.post(func() { fn(); close(ran) }) {
		return squadlink_errors.ErrSessionClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return squadlink_errors.ErrSessionClosed
	}
}

// Open switches the session to roomID. The previous subscription is torn
// down and all per-conversation state cleared before history is requested.
// Open returns once the switch is applied; history loads asynchronously.
func (s *Session) Open(roomID int64) error {
	if roomID <= 0 {
		return fmt.Errorf("%w: room id %d", squadlink_errors.ErrInvalidInput, roomID)
	}
	return s.call(func() { s.open(roomID) })
}

// Close leaves the current conversation.
func (s *Session) Close() error {
	return s.call(func() {
		if s.roomID == 0 {
			return
		}
		room := s.roomID
		s.reset(0, StateIdle)
		s.publish()
		s.notify(Update{Kind: UpdateClosed, RoomID: room, Generation: s.generation})
	})
}

// ApplyInbound merges msg into the open conversation. Messages for another
// room and ids already applied are ignored. While history is loading they are
// held and merged once the page lands.
func (s *Session) ApplyInbound(msg message.Message) {
	s.post(func() { s.applyInbound(msg) })
}

// MarkRead records a read receipt for the open room without waiting for it.
func (s *Session) MarkRead() {
	s.post(s.markRead)
}

// Send validates and submits a message to the open room. A call made while
// another send is in flight is dropped and returns nil. On success nothing is
// inserted locally; the persisted row arrives through the change feed.
func (s *Session) Send(ctx context.Context, content string, contentType message.ContentType) error {
	if strings.TrimSpace(content) == "" {
		return squadlink_errors.ErrEmptyContent
	}
	v := s.View()
	if v.RoomID == 0 {
		return squadlink_errors.ErrNoActiveConversation
	}
	if s.viewerID == "" {
		return squadlink_errors.ErrNotAuthenticated
	}
	if !contentType.Valid() {
		contentType = message.ContentText
	}

	if !s.sending.CompareAndSwap(false, true) {
		metrics.SendsDropped.Inc()
		s.log.Info("send dropped: another send in flight",
			zap.Int64("room_id", v.RoomID),
			zap.Uint64("generation", v.Generation))
		return nil
	}

	s.post(func() {
		s.notify(Update{Kind: UpdateSending, RoomID: v.RoomID, Generation: v.Generation, Sending: true})
	})

	msg, err := s.store.InsertMessage(ctx, v.RoomID, s.viewerID, content, contentType)
	s.sending.Store(false)
	if err != nil {
		metrics.SendsFailed.Inc()
		s.log.Warn("send failed", zap.Int64("room_id", v.RoomID), zap.Error(err))
		s.post(func() {
			s.notify(Update{Kind: UpdateSending, RoomID: v.RoomID, Generation: v.Generation, Err: err})
		})
		return fmt.Errorf("send message: %w", err)
	}

	metrics.SendsTotal.Inc()
	s.log.Debug("message sent", zap.Int64("room_id", v.RoomID), zap.Int64("message_id", msg.ID))
	s.post(func() {
		s.notify(Update{Kind: UpdateSending, RoomID: v.RoomID, Generation: v.Generation})
	})
	return nil
}

// View returns a copy of the session state.
func (s *Session) View() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	v := s.view
	v.Messages = slices.Clone(s.view.Messages)
	v.Sending = s.sending.Load()
	return v
}

func (s *Session) open(roomID int64) {
	s.reset(roomID, StateLoading)
	s.publish()
	s.log.Debug("conversation opened", zap.Int64("room_id", roomID), zap.Uint64("generation", s.generation))
	s.notify(Update{Kind: UpdateOpened, RoomID: roomID, Generation: s.generation})
	s.loadHistory(s.generation, roomID)
}

// reset tears down the subscription and clears every per-conversation field.
func (s *Session) reset(roomID int64, state State) {
	s.generation++
	s.current.Store(s.generation)
	s.teardown()
	s.roomID = roomID
	s.state = state
	s.messages = nil
	s.pending = nil
	s.registry = newDedupRegistry()
	s.snapshot = message.ReadStateSnapshot{}
	s.err = nil
}

func (s *Session) teardown() {
	s.feeds.CloseAll()
	s.connected = false
}

func (s *Session) loadHistory(gen uint64, roomID int64) {
	ctx := s.ctx
	go func() {
		rows, err := s.store.FetchMessages(ctx, roomID, s.pageSize, 0)
		s.post(func() { s.onHistory(gen, roomID, rows, err) })
	}()
}

func (s *Session) onHistory(gen uint64, roomID int64, rows []message.Row, err error) {
	if s.stale(gen, "history") {
		return
	}
	if err != nil {
		s.state = StateFailed
		s.err = fmt.Errorf("load history: %w", err)
		s.messages = nil
		s.pending = nil
		s.publish()
		s.log.Warn("history load failed", zap.Int64("room_id", roomID), zap.Error(err))
		s.notify(Update{Kind: UpdateFailed, RoomID: roomID, Generation: gen, Err: s.err})
		return
	}

	page := message.NormalizeRows(rows)
	slices.Reverse(page)
	msgs := make([]message.Message, 0, len(page))
	for _, m := range page {
		if s.registry.add(m.ID) {
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	s.messages = msgs
	s.snapshot = message.CaptureReadState(msgs)

	// messages applied while the page was in flight; the snapshot stays
	// history-only
	inbound := false
	for _, m := range s.pending {
		if s.insert(m) && m.SenderID != s.viewerID {
			inbound = true
		}
	}
	merged := len(s.pending)
	s.pending = nil

	s.state = StateReady
	s.publish()
	s.log.Debug("history loaded", zap.Int64("room_id", roomID), zap.Int("count", len(s.messages)), zap.Int("buffered", merged))
	s.notify(Update{Kind: UpdateLoaded, RoomID: roomID, Generation: gen})

	if inbound {
		if s.unread != nil {
			s.unread.MarkRoomAsReadOptimistic(roomID)
		}
		s.markRead()
	}

	s.subscribe(gen, roomID)
}

// subscribe opens the room's insert feed off the loop. Subscriptions are
// serialized so a superseded generation can never replace a newer one.
func (s *Session) subscribe(gen uint64, roomID int64) {
	ctx := s.ctx
	key := changefeed.Key{Entity: "room", ID: strconv.FormatInt(roomID, 10)}
	filter := changefeed.Filter{
		Action: events.ActionInsert,
		Table:  events.TableMessages,
		Column: "room_id",
		Value:  key.ID,
	}
	go func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if s.current.Load() != gen {
			return
		}
		h := s.feeds.Open(ctx, key, filter,
			func(env events.Envelope) {
				s.post(func() { s.onFeedEvent(gen, env) })
			},
			func(st changefeed.Status, err error) {
				s.post(func() { s.onFeedStatus(gen, st, err) })
			})
		if h != nil && s.current.Load() != gen {
			s.feeds.Close(h)
		}
	}()
}

func (s *Session) onFeedEvent(gen uint64, env events.Envelope) {
	if s.stale(gen, "feed event") {
		return
	}
	if env.Table != events.TableMessages || env.Action != events.ActionInsert {
		return
	}
	var row message.Row
	if err := env.Decode(&row); err != nil {
		s.log.Warn("undecodable message event", zap.String("record_id", env.RecordID), zap.Error(err))
		return
	}
	s.applyInbound(row.Normalize())
}

func (s *Session) onFeedStatus(gen uint64, st changefeed.Status, err error) {
	if s.stale(gen, "feed status") {
		return
	}
	s.connected = st == changefeed.StatusConnected
	s.publish()
	s.notify(Update{Kind: UpdateStatus, RoomID: s.roomID, Generation: gen, Connected: s.connected, Err: err})
}

func (s *Session) applyInbound(msg message.Message) {
	if s.roomID == 0 || msg.RoomID != s.roomID {
		return
	}
	if s.state == StateLoading {
		s.pending = append(s.pending, msg)
		return
	}
	if !s.insert(msg) {
		return
	}
	s.publish()

	own := msg.SenderID == s.viewerID
	appended := msg
	s.notify(Update{Kind: UpdateAppended, RoomID: msg.RoomID, Generation: s.generation, Message: &appended, Own: own})

	if !own {
		if s.unread != nil {
			s.unread.MarkRoomAsReadOptimistic(msg.RoomID)
		}
		s.markRead()
	}
}

// insert adds msg through the dedup registry, after any message with the
// same timestamp. It reports whether msg was new.
func (s *Session) insert(msg message.Message) bool {
	if !s.registry.add(msg.ID) {
		metrics.DedupHits.Inc()
		s.log.Debug("duplicate message ignored", zap.Int64("room_id", msg.RoomID), zap.Int64("message_id", msg.ID))
		return false
	}
	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = slices.Insert(s.messages, idx, msg)
	return true
}

func (s *Session) markRead() {
	if s.roomID == 0 || s.viewerID == "" {
		return
	}
	gen, roomID, parent := s.generation, s.roomID, s.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, s.readTimeout)
		defer cancel()
		err := s.store.InsertReadReceipt(ctx, roomID, s.viewerID)
		s.post(func() { s.onMarkedRead(gen, roomID, err) })
	}()
}

func (s *Session) onMarkedRead(gen uint64, roomID int64, err error) {
	if err != nil {
		s.log.Warn("mark read failed", zap.Int64("room_id", roomID), zap.Error(err))
		return
	}
	if s.stale(gen, "mark read") {
		return
	}
	changed := false
	for i := range s.messages {
		if s.messages[i].SenderID != s.viewerID && !s.messages[i].IsRead {
			s.messages[i].IsRead = true
			changed = true
		}
	}
	if s.unread != nil {
		s.unread.MarkRoomAsReadOptimistic(roomID)
	}
	if changed {
		s.publish()
		s.notify(Update{Kind: UpdateRead, RoomID: roomID, Generation: gen})
	}
}

func (s *Session) stale(gen uint64, what string) bool {
	if gen == s.generation {
		return false
	}
	metrics.StaleContinuations.Inc()
	s.log.Debug("stale continuation discarded",
		zap.String("what", what),
		zap.Uint64("generation", gen),
		zap.Uint64("current", s.generation))
	return true
}

func (s *Session) publish() {
	s.viewMu.Lock()
	s.view = View{
		RoomID:     s.roomID,
		Generation: s.generation,
		State:      s.state,
		Messages:   slices.Clone(s.messages),
		Snapshot:   s.snapshot,
		Connected:  s.connected,
		Err:        s.err,
	}
	s.viewMu.Unlock()
}

func (s *Session) notify(u Update) {
	if s.observer != nil {
		s.observer(u)
	}
}
