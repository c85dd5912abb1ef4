package changefeed

import (
	"context"
	"fmt"
	"sync"

	"squadlink/internal/events"
	"squadlink/internal/metrics"
	squadlink_errors "squadlink/pkg/errors"

	"go.uber.org/zap"
)

// Key identifies what a handle is subscribed for, e.g. {"room", "42"}.
type Key struct {
	Entity string
	ID     string
}

func (k Key) String() string {
	return k.Entity + ":" + k.ID
}

// Handle is one live subscription owned by a Manager.
type Handle struct {
	Key        Key
	Generation uint64
	Filter     Filter

	sub Subscription
}

// Manager keeps at most one live handle per key. Opening a key that already
// has a live handle tears the old one down first, and callbacks of a handle
// that is no longer live are never delivered.
type Manager struct {
	feed Feed
	log  *zap.Logger

	mu         sync.Mutex
	generation uint64
	live       map[Key]*Handle
}

func NewManager(feed Feed, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		feed: feed,
		log:  log,
		live: make(map[Key]*Handle),
	}
}

// Open subscribes filter under key. A setup failure is reported through
// onStatus with StatusError before Open returns, and Open returns nil.
func (m *Manager) Open(ctx context.Context, key Key, filter Filter, onEvent EventFunc, onStatus StatusFunc) *Handle {
	m.mu.Lock()
	prev := m.live[key]
	delete(m.live, key)
	m.generation++
	h := &Handle{Key: key, Generation: m.generation, Filter: filter}
	m.live[key] = h
	m.mu.Unlock()

	if prev != nil {
		m.teardown(prev)
	}

	deliver := func(env events.Envelope) {
		if m.isLive(h) {
			onEvent(env)
		}
	}
	status := func(s Status, err error) {
		metrics.FeedStatus.WithLabelValues(string(s)).Inc()
		if s.Terminal() {
			// the owner falls back to last known state; no retry
			if !m.release(h) {
				return
			}
			m.log.Warn("change feed subscription ended",
				zap.String("key", key.String()),
				zap.Uint64("generation", h.Generation),
				zap.String("status", string(s)),
				zap.Error(err))
			if onStatus != nil {
				onStatus(s, err)
			}
			return
		}
		if m.isLive(h) && onStatus != nil {
			onStatus(s, err)
		}
	}

	sub, err := m.feed.Subscribe(ctx, filter, deliver, status)
	if err != nil {
		m.release(h)
		metrics.FeedStatus.WithLabelValues(string(StatusError)).Inc()
		m.log.Error("change feed subscribe failed",
			zap.String("key", key.String()),
			zap.String("filter", filter.String()),
			zap.Error(err))
		if onStatus != nil {
			onStatus(StatusError, fmt.Errorf("%w: %v", squadlink_errors.ErrSubscriptionFailed, err))
		}
		return nil
	}

	m.mu.Lock()
	if m.live[key] != h {
		// closed or replaced while subscribing
		m.mu.Unlock()
		if err := m.feed.Unsubscribe(sub); err != nil {
			m.log.Warn("unsubscribe superseded handle", zap.String("key", key.String()), zap.Error(err))
		}
		return nil
	}
	h.sub = sub
	m.mu.Unlock()

	m.log.Debug("change feed subscription opened",
		zap.String("key", key.String()),
		zap.Uint64("generation", h.Generation),
		zap.String("filter", filter.String()))
	return h
}

// Close tears down h. Closing a nil or already closed handle is a no-op.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	m.release(h)
	m.teardown(h)
}

// CloseAll tears down every live handle.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.live))
	for k, h := range m.live {
		handles = append(handles, h)
		delete(m.live, k)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.teardown(h)
	}
}

// Live returns the live handle for key, or nil.
func (m *Manager) Live(key Key) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[key]
}

func (m *Manager) isLive(h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[h.Key] == h
}

// release drops the manager's reference to h and reports whether h was live.
func (m *Manager) release(h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[h.Key] != h {
		return false
	}
	delete(m.live, h.Key)
	return true
}

func (m *Manager) teardown(h *Handle) {
	m.mu.Lock()
	sub := h.sub
	h.sub = nil
	m.mu.Unlock()

	if sub == nil {
		return
	}
	if err := m.feed.Unsubscribe(sub); err != nil {
		m.log.Warn("unsubscribe failed", zap.String("key", h.Key.String()), zap.Error(err))
	}
}
