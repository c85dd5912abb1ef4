package changefeed

import (
	"context"
	"fmt"

	"squadlink/internal/events"
)

// Status is the connection state reported by a subscription.
type Status string

const (
	StatusConnected Status = "CONNECTED"
	StatusError     Status = "ERROR"
	StatusClosed    Status = "CLOSED"
)

// Terminal reports whether no further events follow this status.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusClosed
}

// Filter selects row events of one table. An empty Column subscribes to the
// whole table; an empty Value with a Column subscribes to every value.
type Filter struct {
	Action string
	Table  string
	Column string
	Value  string
}

// Channel is the feed channel this filter listens on.
func (f Filter) Channel() string {
	return events.Channel(f.Action, f.Table, f.Column, f.Value)
}

func (f Filter) String() string {
	if f.Column == "" {
		return fmt.Sprintf("%s %s", f.Action, f.Table)
	}
	return fmt.Sprintf("%s %s %s=%s", f.Action, f.Table, f.Column, f.Value)
}

// EventFunc receives one row event. Delivery is at-least-once.
type EventFunc func(env events.Envelope)

// StatusFunc receives connection state changes. err is set for StatusError.
type StatusFunc func(status Status, err error)

// Subscription is a transport-level subscription returned by a Feed.
type Subscription interface {
	Filter() Filter
}

// Feed is the change feed transport. Subscribe returns once the subscription
// is established or has failed; callbacks may run on any goroutine. After a
// terminal status the transport does not reconnect.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, onEvent EventFunc, onStatus StatusFunc) (Subscription, error)
	Unsubscribe(sub Subscription) error
}
