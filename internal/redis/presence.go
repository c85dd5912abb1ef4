package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis keys for viewer connections
const (
	connectionsKeyPrefix = "connections:"    // hash of connection id -> connection data
	presenceOnlineSet    = "presence:online" // set of viewers with at least one connection
)

// PresenceStore tracks which viewers hold an engine connection on any node.
type PresenceStore struct {
	client *goredis.Client
	ttl    time.Duration
}

type Connection struct {
	ConnectionID string    `json:"connection_id"`
	Node         string    `json:"node,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
}

func NewPresenceStore(client *goredis.Client, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceStore{
		client: client,
		ttl:    ttl,
	}
}

// TrackConnection records one websocket connection of viewerID.
func (p *PresenceStore) TrackConnection(ctx context.Context, viewerID string, conn Connection) error {
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now().UTC()
	}
	data, err := json.Marshal(conn)
	if err != nil {
		return err
	}

	key := connectionsKeyPrefix + viewerID
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, conn.ConnectionID, data)
	pipe.Expire(ctx, key, p.ttl)
	pipe.SAdd(ctx, presenceOnlineSet, viewerID)
	_, err = pipe.Exec(ctx)
	return err
}

// Heartbeat extends the connection hash of viewerID.
func (p *PresenceStore) Heartbeat(ctx context.Context, viewerID string) error {
	return p.client.Expire(ctx, connectionsKeyPrefix+viewerID, p.ttl).Err()
}

// RemoveConnection forgets one connection and marks the viewer offline once
// none remain.
func (p *PresenceStore) RemoveConnection(ctx context.Context, viewerID, connectionID string) error {
	key := connectionsKeyPrefix + viewerID
	if err := p.client.HDel(ctx, key, connectionID).Err(); err != nil {
		return err
	}

	count, err := p.client.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 0 {
		return p.client.SRem(ctx, presenceOnlineSet, viewerID).Err()
	}
	return nil
}

func (p *PresenceStore) OnlineCount(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, presenceOnlineSet).Result()
}
