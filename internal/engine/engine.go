package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"squadlink/internal/changefeed"
	"squadlink/internal/chatroom"
	"squadlink/internal/config"
	"squadlink/internal/domain/conversation"
	"squadlink/internal/domain/message"
	"squadlink/internal/inbox"
	"squadlink/internal/scroll"
	"squadlink/internal/timeline"
	"squadlink/internal/transport/httpdto"
	squadlink_errors "squadlink/pkg/errors"

	"go.uber.org/zap"
)

// Store is everything the engine's components read and write.
type Store interface {
	chatroom.Store
	inbox.Store
}

// Sink receives frames for the viewer. Send must not block.
type Sink interface {
	Send(frame httpdto.Frame)
}

type Deps struct {
	Store Store
	Feed  changefeed.Feed
	Cache inbox.Cache
	Sync  *config.Sync
	Log   *zap.Logger
}

// Engine is one viewer's chat sync engine: the open conversation, the
// conversation list and the scroll anchor, streamed to a Sink as frames.
type Engine struct {
	viewerID string
	sink     Sink
	session  *chatroom.Session
	list     *inbox.Synchronizer
	scroll   *scroll.Controller
	format   timeline.Options
	log      *zap.Logger

	// closed once the first conversation list load has finished
	listReady chan struct{}

	mu    sync.Mutex
	acked map[string]bool
}

func New(viewerID string, sink Sink, deps Deps) *Engine {
	cfg := deps.Sync
	if cfg == nil {
		cfg = config.Default()
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("viewer_id", viewerID))

	e := &Engine{
		viewerID:  viewerID,
		sink:      sink,
		format:    timeline.Options{Location: cfg.Location()},
		log:       log,
		acked:     make(map[string]bool),
		listReady: make(chan struct{}),
	}
	e.list = inbox.NewSynchronizer(inbox.Options{
		Store:          deps.Store,
		Feed:           deps.Feed,
		Cache:          deps.Cache,
		Observer:       e.onList,
		DebounceWindow: cfg.DebounceWindow,
		Log:            log.Named("inbox"),
	})
	e.session = chatroom.NewSession(chatroom.Options{
		ViewerID:  viewerID,
		Store:     deps.Store,
		Feed:      deps.Feed,
		Unread:    e.list,
		Observer:  e.onSession,
		PageSize:  cfg.PageSize,
		QueueSize: cfg.QueueSize,
		Log:       log.Named("chatroom"),
	})
	e.scroll = scroll.NewController(e, scroll.Options{
		RetryAttempts: cfg.AnchorRetryAttempts,
		RetryInterval: cfg.AnchorRetryInterval,
		Log:           log.Named("scroll"),
	})
	return e
}

// Run drives the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.session.Run(ctx)

	if err := e.list.Start(ctx, e.viewerID); err != nil {
		e.log.Warn("conversation list did not start", zap.Error(err))
	}
	close(e.listReady)

	<-ctx.Done()
	e.list.Stop()
	<-e.session.Done()
}

// Handle executes one viewer command. Sends run in the background so a
// second send issued while the first is in flight reaches the single-flight
// guard instead of queueing behind it.
func (e *Engine) Handle(ctx context.Context, cmd httpdto.Command) error {
	switch cmd.Type {
	case httpdto.CommandOpenRoom:
		select {
		case <-e.listReady:
		case <-ctx.Done():
			return ctx.Err()
		}
		if _, ok := e.list.Row(cmd.RoomID); !ok {
			return fmt.Errorf("%w: room %d", squadlink_errors.ErrNotFound, cmd.RoomID)
		}
		return e.session.Open(cmd.RoomID)
	case httpdto.CommandCloseRoom:
		return e.session.Close()
	case httpdto.CommandSend:
		go func() {
			if err := e.session.Send(ctx, cmd.Content, message.ContentType(cmd.ContentType)); err != nil {
				e.sendError(cmd.RequestID, err)
			}
		}()
		return nil
	case httpdto.CommandMarkRead:
		e.session.MarkRead()
		return nil
	case httpdto.CommandScrolled:
		e.scroll.SetAtBottom(cmd.AtBottom)
		return nil
	case httpdto.CommandAck:
		e.mu.Lock()
		e.acked[cmd.Key] = true
		e.mu.Unlock()
		e.scroll.Acknowledge(cmd.Key)
		return nil
	case httpdto.CommandRefresh:
		e.list.RequestRefresh()
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", squadlink_errors.ErrInvalidInput, cmd.Type)
}

// Materialized implements scroll.Viewport from the keys the viewer acked.
func (e *Engine) Materialized(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acked[key]
}

// ScrollTo implements scroll.Viewport.
func (e *Engine) ScrollTo(cmd scroll.Command) {
	c := cmd
	e.sink.Send(httpdto.Frame{Type: httpdto.FrameScroll, RoomID: e.session.View().RoomID, Scroll: &c})
}

// onSession runs on the session loop.
func (e *Engine) onSession(u chatroom.Update) {
	switch u.Kind {
	case chatroom.UpdateOpened:
		e.mu.Lock()
		e.acked = make(map[string]bool)
		e.mu.Unlock()
		e.scroll.Reset()
		e.pushTimeline()
		e.pushStatus()
	case chatroom.UpdateLoaded:
		items := e.pushTimeline()
		e.scroll.OnFormatted(items)
	case chatroom.UpdateAppended:
		e.pushTimeline()
		e.scroll.OnMessage(u.Own)
	case chatroom.UpdateRead:
		e.pushTimeline()
	case chatroom.UpdateFailed:
		e.pushTimeline()
		e.sendError("", u.Err)
	case chatroom.UpdateStatus:
		e.pushStatus()
	case chatroom.UpdateSending:
		if u.Sending {
			e.scroll.PreTrigger()
		}
		e.pushStatus()
	case chatroom.UpdateClosed:
		e.scroll.Reset()
		e.pushTimeline()
		e.pushStatus()
	}
}

// onList runs whenever the conversation list changes. If the open room is
// gone from an authoritative list the session is closed.
func (e *Engine) onList(rows []conversation.Summary) {
	e.sink.Send(httpdto.Frame{
		Type:          httpdto.FrameConversations,
		Conversations: httpdto.ToConversationDTOs(rows),
	})

	open := e.session.View().RoomID
	if open == 0 {
		return
	}
	for _, r := range rows {
		if r.RoomID == open {
			return
		}
	}
	e.log.Info("open room left the conversation list, closing", zap.Int64("room_id", open))
	// may be called from the session loop
	go func() {
		if err := e.session.Close(); err != nil && !errors.Is(err, squadlink_errors.ErrSessionClosed) {
			e.log.Warn("close removed room", zap.Error(err))
		}
	}()
}

func (e *Engine) pushTimeline() []timeline.Item {
	v := e.session.View()
	items := timeline.Format(v.Messages, v.Snapshot, e.viewerID, e.format)
	e.sink.Send(httpdto.Frame{
		Type:       httpdto.FrameTimeline,
		RoomID:     v.RoomID,
		Generation: v.Generation,
		State:      v.State.String(),
		Items:      items,
	})
	return items
}

func (e *Engine) pushStatus() {
	v := e.session.View()
	e.sink.Send(httpdto.Frame{
		Type:       httpdto.FrameStatus,
		RoomID:     v.RoomID,
		Generation: v.Generation,
		State:      v.State.String(),
		Connected:  v.Connected,
		Sending:    v.Sending,
	})
}

func (e *Engine) sendError(requestID string, err error) {
	if err == nil {
		return
	}
	e.sink.Send(httpdto.Frame{
		Type:      httpdto.FrameError,
		RequestID: requestID,
		Error:     err.Error(),
		Code:      ErrorCode(err),
	})
}

// ErrorCode maps an error to the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, squadlink_errors.ErrEmptyContent):
		return "EMPTY_CONTENT"
	case errors.Is(err, squadlink_errors.ErrNoActiveConversation):
		return "NO_ACTIVE_CONVERSATION"
	case errors.Is(err, squadlink_errors.ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, squadlink_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, squadlink_errors.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, squadlink_errors.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, squadlink_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, squadlink_errors.ErrSubscriptionFailed):
		return "NOT_LIVE"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	return "INTERNAL_ERROR"
}
