package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"squadlink/internal/domain/conversation"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - conversations:{viewer_id} - last known conversation list, CacheConfig.ListTTL

type CacheConfig struct {
	ListTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{ListTTL: 10 * time.Minute}
}

// CacheStore keeps the last known conversation list per viewer. It
// implements inbox.Cache.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	if config.ListTTL <= 0 {
		config.ListTTL = DefaultCacheConfig().ListTTL
	}
	return &CacheStore{
		client: client,
		config: config,
	}
}

func listKey(viewerID string) string {
	return fmt.Sprintf("conversations:%s", viewerID)
}

// GetConversationList returns the cached list. A miss is not an error.
func (c *CacheStore) GetConversationList(ctx context.Context, viewerID string) ([]conversation.Summary, bool, error) {
	data, err := c.client.Get(ctx, listKey(viewerID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []conversation.Summary
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, fmt.Errorf("decode cached conversation list: %w", err)
	}
	return rows, true, nil
}

func (c *CacheStore) SetConversationList(ctx context.Context, viewerID string, rows []conversation.Summary) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listKey(viewerID), data, c.config.ListTTL).Err()
}
