package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - ratelimit:{user_id}:messages - per-minute message sends
// - ratelimit:{ip}:http - per-minute REST requests

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	MessageLimit  int // 0 disables message limiting
	MessageWindow time.Duration
	HTTPLimit     int // 0 disables per-IP limiting
	HTTPWindow    time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessageLimit:  60,
		MessageWindow: time.Minute,
		HTTPLimit:     600,
		HTTPWindow:    time.Minute,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
	Limit     int
}

func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, config: config}
}

// fixed window counter, atomic increment and check
var rateLimitScript = goredis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	if current < limit then
		redis.call('INCR', key)
		if current == 0 then
			redis.call('EXPIRE', key, window)
		end
		return {1, limit - current - 1, ttl}
	end
	return {0, 0, ttl}
`)

// AllowMessage checks if a user can send a message
func (r *RateLimiter) AllowMessage(ctx context.Context, userID string) (*RateLimitResult, error) {
	return r.Allow(ctx, fmt.Sprintf("ratelimit:%s:messages", userID), r.config.MessageLimit, r.config.MessageWindow)
}

// AllowHTTP checks the per-client REST budget.
func (r *RateLimiter) AllowHTTP(ctx context.Context, clientKey string) (*RateLimitResult, error) {
	return r.Allow(ctx, fmt.Sprintf("ratelimit:%s:http", clientKey), r.config.HTTPLimit, r.config.HTTPWindow)
}

// Allow consumes one unit from key. A non-positive limit always allows.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	result, err := rateLimitScript.Run(ctx, r.client, []string{key}, limit, seconds).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetIn:   time.Duration(result[2]) * time.Second,
		Limit:     limit,
	}, nil
}

// ResetUser clears the message budget of a user.
func (r *RateLimiter) ResetUser(ctx context.Context, userID string) error {
	return r.client.Del(ctx, fmt.Sprintf("ratelimit:%s:messages", userID)).Err()
}
