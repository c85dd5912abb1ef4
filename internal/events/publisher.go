package events

import "context"

// Publisher sends a raw payload to one channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
