package scroll

import (
	"sync"
	"time"

	"squadlink/internal/metrics"
	"squadlink/internal/timeline"

	"go.uber.org/zap"
)

type Target string

const (
	TargetBottom Target = "bottom"
	TargetKey    Target = "key"
)

// Command asks the consumer to scroll.
type Command struct {
	Target Target `json:"target"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// Viewport is the consumer rendering the timeline. Its methods are called
// with the controller lock held and must not call back into the Controller.
type Viewport interface {
	// Materialized reports whether the item with key has been rendered.
	Materialized(key string) bool
	ScrollTo(cmd Command)
}

type Options struct {
	RetryAttempts int
	RetryInterval time.Duration
	Log           *zap.Logger
}

// Controller makes the one-shot initial anchor decision per conversation open
// and the follow-up auto-scroll decisions.
type Controller struct {
	viewport Viewport
	attempts int
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	epoch    uint64
	decided  bool
	anchored bool
	atBottom bool
	acks     chan string
	cancel   chan struct{}
}

func NewController(viewport Viewport, opts Options) *Controller {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 10
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Controller{
		viewport: viewport,
		attempts: opts.RetryAttempts,
		interval: opts.RetryInterval,
		log:      opts.Log,
		atBottom: true,
	}
}

// Reset forgets the previous conversation and abandons any pending anchor.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.decided = false
	c.anchored = false
	c.atBottom = true
	c.stopWaitLocked()
}

// OnFormatted decides the initial anchor from the first formatted pass after
// a successful load. Later calls are ignored until Reset.
func (c *Controller) OnFormatted(items []timeline.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decided {
		return
	}
	c.decided = true

	key := ""
	for _, it := range items {
		if it.Kind == timeline.KindUnreadDivider {
			key = it.Key
			break
		}
	}
	if key == "" {
		c.anchorLocked(Command{Target: TargetBottom, Reason: "initial"})
		return
	}
	if c.viewport.Materialized(key) {
		c.anchorLocked(Command{Target: TargetKey, Key: key, Reason: "initial"})
		return
	}

	c.acks = make(chan string, 16)
	c.cancel = make(chan struct{})
	go c.await(c.epoch, key, c.acks, c.cancel)
}

// Acknowledge tells the controller the consumer has rendered key.
func (c *Controller) Acknowledge(key string) {
	c.mu.Lock()
	acks := c.acks
	c.mu.Unlock()
	if acks == nil {
		return
	}
	select {
	case acks <- key:
	default:
	}
}

// OnMessage reacts to a message appended after the initial anchor. Own
// messages always scroll to the bottom; inbound ones only when the viewer is
// already there.
func (c *Controller) OnMessage(own bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.anchored {
		return
	}
	if own {
		c.atBottom = true
		c.viewport.ScrollTo(Command{Target: TargetBottom, Reason: "own_message"})
		return
	}
	if c.atBottom {
		c.viewport.ScrollTo(Command{Target: TargetBottom, Reason: "new_message"})
	}
}

// PreTrigger scrolls to the bottom ahead of a self send so the echo lands in
// view.
func (c *Controller) PreTrigger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atBottom = true
	c.viewport.ScrollTo(Command{Target: TargetBottom, Reason: "send"})
}

// SetAtBottom records whether the viewer is scrolled to the bottom.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atBottom = atBottom
}

func (c *Controller) Anchored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchored
}

func (c *Controller) await(epoch uint64, key string, acks <-chan string, cancel <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.attempts; {
		select {
		case <-cancel:
			return
		case k := <-acks:
			if k == key {
				c.finish(epoch, Command{Target: TargetKey, Key: key, Reason: "initial"})
				return
			}
		case <-ticker.C:
			attempt++
			if c.viewport.Materialized(key) {
				c.finish(epoch, Command{Target: TargetKey, Key: key, Reason: "initial"})
				return
			}
		}
	}

	metrics.AnchorFallbacks.Inc()
	c.log.Debug("anchor target never materialized, falling back to bottom",
		zap.String("key", key),
		zap.Int("attempts", c.attempts))
	c.finish(epoch, Command{Target: TargetBottom, Reason: "anchor_fallback"})
}

func (c *Controller) finish(epoch uint64, cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.anchored {
		return
	}
	c.stopWaitLocked()
	c.anchorLocked(cmd)
}

func (c *Controller) anchorLocked(cmd Command) {
	c.anchored = true
	c.atBottom = cmd.Target == TargetBottom
	c.viewport.ScrollTo(cmd)
}

func (c *Controller) stopWaitLocked() {
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	c.acks = nil
}
