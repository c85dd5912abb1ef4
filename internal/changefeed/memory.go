package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"squadlink/internal/events"
)

// MemoryFeed is an in-process Feed. It also implements events.Publisher so
// the outbox processor can publish to it on a single node.
type MemoryFeed struct {
	resolver events.ChannelResolver

	mu       sync.Mutex
	nextID   int
	subs     map[int]*memorySubscription
	setupErr error
}

type memorySubscription struct {
	id       int
	filter   Filter
	channel  string
	onEvent  EventFunc
	onStatus StatusFunc
}

func (s *memorySubscription) Filter() Filter { return s.filter }

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		resolver: events.NewColumnChannelResolver(),
		subs:     make(map[int]*memorySubscription),
	}
}

func (f *MemoryFeed) Subscribe(ctx context.Context, filter Filter, onEvent EventFunc, onStatus StatusFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.setupErr != nil {
		err := f.setupErr
		f.setupErr = nil
		f.mu.Unlock()
		return nil, err
	}
	f.nextID++
	sub := &memorySubscription{
		id:       f.nextID,
		filter:   filter,
		channel:  filter.Channel(),
		onEvent:  onEvent,
		onStatus: onStatus,
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	if onStatus != nil {
		onStatus(StatusConnected, nil)
	}
	return sub, nil
}

func (f *MemoryFeed) Unsubscribe(sub Subscription) error {
	ms, ok := sub.(*memorySubscription)
	if !ok {
		return fmt.Errorf("memory feed: foreign subscription %T", sub)
	}
	f.mu.Lock()
	_, found := f.subs[ms.id]
	delete(f.subs, ms.id)
	f.mu.Unlock()

	if found && ms.onStatus != nil {
		ms.onStatus(StatusClosed, nil)
	}
	return nil
}

// Publish delivers a raw envelope to every subscription matching channel.
func (f *MemoryFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("memory feed: decode envelope: %w", err)
	}

	f.mu.Lock()
	var targets []*memorySubscription
	for _, s := range f.subs {
		if channelMatches(s.channel, channel) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.onEvent(env)
	}
	return nil
}

// Emit publishes env to every channel it resolves to, the way the outbox
// processor does.
func (f *MemoryFeed) Emit(ctx context.Context, env events.Envelope) error {
	channels, err := f.resolver.ResolveChannels(env)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := f.Publish(ctx, ch, payload); err != nil {
			return err
		}
	}
	return nil
}

// Fail drops every subscription listening on filter's channel and reports
// err to each as StatusError.
func (f *MemoryFeed) Fail(filter Filter, err error) {
	if err == nil {
		err = errors.New("memory feed: transport failure")
	}
	channel := filter.Channel()

	f.mu.Lock()
	var failed []*memorySubscription
	for id, s := range f.subs {
		if s.channel == channel {
			failed = append(failed, s)
			delete(f.subs, id)
		}
	}
	f.mu.Unlock()

	for _, s := range failed {
		if s.onStatus != nil {
			s.onStatus(StatusError, err)
		}
	}
}

// FailNextSubscribe makes the next Subscribe call return err.
func (f *MemoryFeed) FailNextSubscribe(err error) {
	f.mu.Lock()
	f.setupErr = err
	f.mu.Unlock()
}

// Subscribers counts live subscriptions on channel.
func (f *MemoryFeed) Subscribers(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.channel == channel {
			n++
		}
	}
	return n
}

func channelMatches(subscribed, published string) bool {
	if subscribed == published {
		return true
	}
	if events.IsPattern(subscribed) {
		return strings.HasPrefix(published, strings.TrimSuffix(subscribed, "*"))
	}
	return false
}
