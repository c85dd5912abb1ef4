package inbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"squadlink/internal/changefeed"
	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
	"squadlink/internal/events"
	"squadlink/internal/metrics"
	squadlink_errors "squadlink/pkg/errors"

	"go.uber.org/zap"
)

type Store interface {
	// FetchConversations returns the viewer's full list, most recent first.
	FetchConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error)
	RoomIDForMessage(ctx context.Context, messageID int64) (int64, error)
}

// Cache keeps the last known list per viewer so a new connection has rows to
// show before the first refresh lands.
type Cache interface {
	GetConversationList(ctx context.Context, viewerID string) ([]conversation.Summary, bool, error)
	SetConversationList(ctx context.Context, viewerID string, rows []conversation.Summary) error
}

// Observer receives the full list after every change.
type Observer func(rows []conversation.Summary)

type Options struct {
	Store          Store
	Feed           changefeed.Feed
	Cache          Cache
	Observer       Observer
	DebounceWindow time.Duration
	LookupTimeout  time.Duration
	Log            *zap.Logger
}

// Synchronizer maintains the viewer's conversation list. Any relevant change
// feed event schedules a debounced full refresh; local read actions zero a
// row's unread count immediately.
type Synchronizer struct {
	store         Store
	cache         Cache
	observer      Observer
	feeds         *changefeed.Manager
	debounce      *debouncer
	lookupTimeout time.Duration
	log           *zap.Logger

	mu         sync.Mutex
	generation uint64
	viewerID   string
	rows       []conversation.Summary
	version    uint64
	ctx        context.Context
	cancel     context.CancelFunc

	notifyMu sync.Mutex
	notified uint64
}

func NewSynchronizer(opts Options) *Synchronizer {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 300 * time.Millisecond
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Synchronizer{
		store:         opts.Store,
		cache:         opts.Cache,
		observer:      opts.Observer,
		feeds:         changefeed.NewManager(opts.Feed, opts.Log),
		lookupTimeout: opts.LookupTimeout,
		log:           opts.Log,
		ctx:           context.Background(),
	}
	s.debounce = newDebouncer(opts.DebounceWindow, s.debouncedRefresh)
	return s
}

// Start binds the synchronizer to viewerID, replacing any previous viewer.
// It seeds rows from the cache, subscribes to every feed that can change the
// list and runs one refresh. Refresh failures are logged, not returned.
func (s *Synchronizer) Start(ctx context.Context, viewerID string) error {
	if viewerID == "" {
		return squadlink_errors.ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	s.viewerID = viewerID
	s.rows = nil
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.debounce.Reset()
	s.feeds.CloseAll()

	s.seedFromCache(runCtx, gen, viewerID)
	s.subscribe(runCtx, gen, viewerID)

	if err := s.Refresh(runCtx); err != nil {
		s.log.Warn("initial conversation list refresh failed", zap.String("viewer_id", viewerID), zap.Error(err))
	}
	return nil
}

// Stop unsubscribes and discards every in-flight result.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.generation++
	s.viewerID = ""
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.debounce.Stop()
	s.feeds.CloseAll()
}

// RequestRefresh schedules a refresh after the debounce window. Bursts are
// coalesced into one fetch issued after the last request.
func (s *Synchronizer) RequestRefresh() {
	s.debounce.Trigger()
}

// Refresh fetches the authoritative list and replaces the local rows. The
// result is dropped if the viewer changed while the fetch was in flight.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen, viewerID := s.generation, s.viewerID
	s.mu.Unlock()
	if viewerID == "" {
		return squadlink_errors.ErrNotAuthenticated
	}

	metrics.ListRefreshes.Inc()
	rows, err := s.store.FetchConversations(ctx, viewerID)
	if err != nil {
		metrics.ListRefreshErrors.Inc()
		return fmt.Errorf("fetch conversations: %w", err)
	}
	sortByActivity(rows)

	s.mu.Lock()
	if gen != s.generation || viewerID != s.viewerID {
		s.mu.Unlock()
		metrics.StaleContinuations.Inc()
		s.log.Debug("stale conversation list discarded", zap.String("viewer_id", viewerID), zap.Uint64("generation", gen))
		return nil
	}
	s.rows = rows
	s.version++
	version := s.version
	out := cloneRows(rows)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetConversationList(ctx, viewerID, out); err != nil {
			s.log.Warn("conversation list cache write failed", zap.String("viewer_id", viewerID), zap.Error(err))
		}
	}
	s.emit(version, out)
	return nil
}

// MarkRoomAsReadOptimistic zeroes the unread count of roomID. The next
// refresh overwrites it with authoritative data.
func (s *Synchronizer) MarkRoomAsReadOptimistic(roomID int64) {
	s.mu.Lock()
	changed := false
	for i := range s.rows {
		if s.rows[i].RoomID == roomID && s.rows[i].UnreadCount != 0 {
			s.rows[i].UnreadCount = 0
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.version++
	version := s.version
	out := cloneRows(s.rows)
	s.mu.Unlock()

	s.emit(version, out)
}

// Rows returns a copy of the current list.
func (s *Synchronizer) Rows() []conversation.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// Row returns the summary of roomID if the viewer is a member.
func (s *Synchronizer) Row(roomID int64) (conversation.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.RoomID == roomID {
			return r.Clone(), true
		}
	}
	return conversation.Summary{}, false
}

func (s *Synchronizer) seedFromCache(ctx context.Context, gen uint64, viewerID string) {
	if s.cache == nil {
		return
	}
	rows, ok, err := s.cache.GetConversationList(ctx, viewerID)
	if err != nil {
		s.log.Warn("conversation list cache read failed", zap.String("viewer_id", viewerID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.rows != nil {
		s.mu.Unlock()
		return
	}
	s.rows = rows
	s.version++
	version := s.version
	out := cloneRows(rows)
	s.mu.Unlock()

	s.emit(version, out)
}

func (s *Synchronizer) subscribe(ctx context.Context, gen uint64, viewerID string) {
	filters := map[string]changefeed.Filter{
		"membership_added":   {Action: events.ActionInsert, Table: events.TableRoomMembers, Column: "user_id", Value: viewerID},
		"membership_removed": {Action: events.ActionDelete, Table: events.TableRoomMembers, Column: "user_id", Value: viewerID},
		"room_updated":       {Action: events.ActionUpdate, Table: events.TableRooms},
		"message_inserted":   {Action: events.ActionInsert, Table: events.TableMessages},
		"read_receipt":       {Action: events.ActionInsert, Table: events.TableMessageReads, Column: "user_id", Value: viewerID},
	}
	for name, filter := range filters {
		key := changefeed.Key{Entity: "list:" + name, ID: viewerID}
		s.feeds.Open(ctx, key, filter,
			func(env events.Envelope) { s.onEvent(gen, env) },
			func(st changefeed.Status, err error) {
				if st.Terminal() {
					s.log.Warn("conversation list feed lost",
						zap.String("feed", key.Entity),
						zap.String("status", string(st)),
						zap.Error(err))
				}
			})
	}
}

func (s *Synchronizer) onEvent(gen uint64, env events.Envelope) {
	s.mu.Lock()
	current := gen == s.generation
	ctx := s.ctx
	s.mu.Unlock()
	if !current {
		return
	}

	if env.Table == events.TableMessageReads {
		var receipt message.ReadReceipt
		if err := env.Decode(&receipt); err != nil {
			s.log.Warn("undecodable read receipt event", zap.String("record_id", env.RecordID), zap.Error(err))
		} else {
			go s.zeroForReceipt(ctx, gen, receipt)
		}
	}
	s.RequestRefresh()
}

// zeroForReceipt resolves the receipt's room and zeroes it ahead of the
// debounced refresh. Lookup failures are ignored.
func (s *Synchronizer) zeroForReceipt(ctx context.Context, gen uint64, receipt message.ReadReceipt) {
	roomID := receipt.RoomID
	if roomID == 0 {
		lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
		id, err := s.store.RoomIDForMessage(lookupCtx, receipt.MessageID)
		if err != nil {
			s.log.Debug("read receipt room lookup failed", zap.Int64("message_id", receipt.MessageID), zap.Error(err))
			return
		}
		roomID = id
	}

	s.mu.Lock()
	current := gen == s.generation
	s.mu.Unlock()
	if current {
		s.MarkRoomAsReadOptimistic(roomID)
	}
}

func (s *Synchronizer) debouncedRefresh() {
	s.mu.Lock()
	ctx := s.ctx
	viewerID := s.viewerID
	s.mu.Unlock()
	if viewerID == "" {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("conversation list refresh failed", zap.String("viewer_id", viewerID), zap.Error(err))
	}
}

// emit delivers rows unless a newer version was already delivered.
func (s *Synchronizer) emit(version uint64, rows []conversation.Summary) {
	if s.observer == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if version <= s.notified {
		return
	}
	s.notified = version
	s.observer(rows)
}

func sortByActivity(rows []conversation.Summary) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].LastActivity().After(rows[j].LastActivity())
	})
}

func cloneRows(rows []conversation.Summary) []conversation.Summary {
	if rows == nil {
		return nil
	}
	out := make([]conversation.Summary, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}
