package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key patterns:
// - ratelimit:{viewer_id}:messages - fixed window message quota
// - ratelimit:{viewer_id}:uploads   - fixed window image upload quota
// - ratelimit:{viewer_id}:ws        - websocket connection attempts

type RateLimitConfig struct {
	MessageLimit  int
	MessageWindow time.Duration

	UploadLimit  int
	UploadWindow time.Duration

	WebSocketLimit  int
	WebSocketWindow time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessageLimit:    30,
		MessageWindow:   60 * time.Second,
		UploadLimit:     10,
		UploadWindow:    60 * time.Second,
		WebSocketLimit:  20,
		WebSocketWindow: 60 * time.Second,
	}
}

// RateLimiter bounds how many messages a viewer may send per window.
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.MessageLimit <= 0 {
		config.MessageLimit = def.MessageLimit
	}
	if config.MessageWindow <= 0 {
		config.MessageWindow = def.MessageWindow
	}
	if config.UploadLimit <= 0 {
		config.UploadLimit = def.UploadLimit
	}
	if config.UploadWindow <= 0 {
		config.UploadWindow = def.UploadWindow
	}
	if config.WebSocketLimit <= 0 {
		config.WebSocketLimit = def.WebSocketLimit
	}
	if config.WebSocketWindow <= 0 {
		config.WebSocketWindow = def.WebSocketWindow
	}
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// increment-and-check in one round trip; returns {allowed, remaining, ttl}
var limitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current >= limit then
		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end
		return {0, 0, ttl}
	end

	current = redis.call('INCR', key)
	if current == 1 then
		redis.call('EXPIRE', key, window)
	end
	local ttl = redis.call('TTL', key)
	return {1, limit - current, ttl}
`)

// AllowMessage consumes one message from viewerID's quota if any is left.
func (r *RateLimiter) AllowMessage(ctx context.Context, viewerID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:messages", viewerID)
	return r.checkLimit(ctx, key, r.config.MessageLimit, r.config.MessageWindow)
}

// AllowUpload consumes one image upload from viewerID's quota.
func (r *RateLimiter) AllowUpload(ctx context.Context, viewerID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:uploads", viewerID)
	return r.checkLimit(ctx, key, r.config.UploadLimit, r.config.UploadWindow)
}

func (r *RateLimiter) AllowWebSocket(ctx context.Context, viewerID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:ws", viewerID)
	return r.checkLimit(ctx, key, r.config.WebSocketLimit, r.config.WebSocketWindow)
}

func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	vals, err := limitScript.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(vals) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result %v", vals)
	}
	return &RateLimitResult{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetIn:   time.Duration(vals[2]) * time.Second,
		Limit:     limit,
	}, nil
}
