package websocket

import (
	"context"
	"time"

	"pulse-dm/internal/events"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// stableAfter is how long a subscription must live before the retry
// interval starts over.
const stableAfter = time.Minute

// RedisBridge feeds room payloads published by any instance into the local
// hub. A single subscriber goroutine keeps per-room order. Dropped
// subscriptions are re-established with exponential backoff; frames
// published meanwhile are lost and clients recover them by resyncing.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
	logger     *Logger
	newBackOff func() backoff.BackOff
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub, logger *Logger) *RedisBridge {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &RedisBridge{
		subscriber: subscriber,
		hub:        hub,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run blocks until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	bo := b.newBackOff()
	for {
		started := time.Now()
		err := b.subscriber.Subscribe(ctx, []string{events.ChannelPattern}, b.hub.Broadcast)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > stableAfter {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		b.logger.Warn("redis_resubscribe", "", "", zap.Error(err), zap.Duration("wait", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
