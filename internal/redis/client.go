package redis

import (
	"context"
	"fmt"
	"time"

	pulse_errors "pulse-dm/pkg/errors"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	// PoolSize of zero keeps the go-redis default of ten per CPU.
	PoolSize int
}

// NewClient builds the shared client used for presence, caching, rate
// limits and pub/sub. It does not dial until first use.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// Ping checks connectivity for /health and startup.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", pulse_errors.ErrTransport, err)
	}
	return nil
}
