package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/user"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - user:{user_id} - profile as last written to the users table
// - follow:mutual:{low}:{high} - "1" or "0"

type CacheConfig struct {
	UserTTL   time.Duration
	FollowTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		UserTTL:   5 * time.Minute,
		FollowTTL: time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{client: client, config: config}
}

// GetUser returns the cached profile, or nil on a miss.
func (c *CacheStore) GetUser(ctx context.Context, userID string) (*user.Profile, error) {
	data, err := c.client.Get(ctx, "user:"+userID).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p user.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *CacheStore) SetUser(ctx context.Context, p user.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "user:"+p.ID, data, c.config.UserTTL).Err()
}

func mutualKey(a, b string) string {
	low, high := conversation.CanonicalPair(a, b)
	return fmt.Sprintf("follow:mutual:%s:%s", low, high)
}

// GetMutualFollow returns the cached answer and whether it was present.
func (c *CacheStore) GetMutualFollow(ctx context.Context, a, b string) (mutual bool, hit bool, err error) {
	v, err := c.client.Get(ctx, mutualKey(a, b)).Result()
	if err == goredis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *CacheStore) SetMutualFollow(ctx context.Context, a, b string, mutual bool) error {
	v := "0"
	if mutual {
		v = "1"
	}
	return c.client.Set(ctx, mutualKey(a, b), v, c.config.FollowTTL).Err()
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
