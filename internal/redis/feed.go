package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"squadlink/internal/changefeed"
	"squadlink/internal/events"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Feed implements changefeed.Feed over redis pub/sub. Every subscription
// gets its own PubSub connection so it can be torn down independently.
type Feed struct {
	client *redis.Client
	log    *zap.Logger
}

func NewFeed(client *redis.Client, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{client: client, log: log}
}

// messageReceiver is the part of *redis.PubSub the receive loop uses.
type messageReceiver interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
	Close() error
}

type subscription struct {
	filter  changefeed.Filter
	channel string
	pubsub  messageReceiver
	cancel  context.CancelFunc
	closed  atomic.Bool
}

func (s *subscription) Filter() changefeed.Filter { return s.filter }

// Subscribe returns after redis confirmed the subscription. Events are
// delivered from a receive goroutine until Unsubscribe, ctx cancellation or
// a transport error; the last two end with CLOSED and ERROR respectively.
func (f *Feed) Subscribe(ctx context.Context, filter changefeed.Filter, onEvent changefeed.EventFunc, onStatus changefeed.StatusFunc) (changefeed.Subscription, error) {
	channel := filter.Channel()
	runCtx, cancel := context.WithCancel(ctx)

	var ps *redis.PubSub
	if events.IsPattern(channel) {
		ps = f.client.PSubscribe(runCtx, channel)
	} else {
		ps = f.client.Subscribe(runCtx, channel)
	}
	if _, err := ps.Receive(runCtx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &subscription{filter: filter, channel: channel, pubsub: ps, cancel: cancel}
	if onStatus != nil {
		onStatus(changefeed.StatusConnected, nil)
	}
	go f.receive(runCtx, sub, onEvent, onStatus)
	return sub, nil
}

// Unsubscribe closes the subscription without waiting for the receive
// goroutine to observe it.
func (f *Feed) Unsubscribe(sub changefeed.Subscription) error {
	s, ok := sub.(*subscription)
	if !ok {
		return fmt.Errorf("redis feed: foreign subscription %T", sub)
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	return s.pubsub.Close()
}

func (f *Feed) receive(ctx context.Context, s *subscription, onEvent changefeed.EventFunc, onStatus changefeed.StatusFunc) {
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			status := changefeed.StatusError
			if s.closed.Load() || ctx.Err() != nil {
				status, err = changefeed.StatusClosed, nil
			} else {
				s.closed.Store(true)
				s.cancel()
				_ = s.pubsub.Close()
			}
			if onStatus != nil {
				onStatus(status, err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			f.log.Warn("undecodable change feed payload",
				zap.String("channel", msg.Channel),
				zap.Error(err))
			continue
		}
		if onEvent != nil {
			onEvent(env)
		}
	}
}
