package websocket

import (
	"context"
	"sync"
	"time"

	"pulse-dm/pkg/protocol"
)

// Rate limits per minute
type RateLimits struct {
	MaxTypingEvents int
	MaxReadReceipts int
	MaxRoomChanges  int
	MaxPingMessages int
}

var DefaultRateLimits = RateLimits{
	MaxTypingEvents: 60,
	MaxReadReceipts: 120,
	MaxRoomChanges:  60,
	MaxPingMessages: 60,
}

// ClientRateLimiter is a per-connection token bucket for chatty events.
// Message sends are limited per user in Redis instead.
type ClientRateLimiter struct {
	limits       RateLimits
	typingTokens int
	readTokens   int
	roomTokens   int
	pingTokens   int
	lastRefill   time.Time
	mu           sync.Mutex
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	rl := &ClientRateLimiter{limits: limits, lastRefill: time.Now()}
	rl.refillTokens()
	return rl
}

func (rl *ClientRateLimiter) Allow(kind protocol.Kind) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	var bucket *int
	switch kind {
	case protocol.Typing, protocol.StopTyping:
		bucket = &rl.typingTokens
	case protocol.MarkRead, protocol.MarkDelivered:
		bucket = &rl.readTokens
	case protocol.JoinConversations, protocol.OpenConversation, protocol.CloseConversation:
		bucket = &rl.roomTokens
	case protocol.Ping:
		bucket = &rl.pingTokens
	default:
		return true
	}
	if *bucket > 0 {
		*bucket--
		return true
	}
	return false
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.typingTokens = rl.limits.MaxTypingEvents
	rl.readTokens = rl.limits.MaxReadReceipts
	rl.roomTokens = rl.limits.MaxRoomChanges
	rl.pingTokens = rl.limits.MaxPingMessages
}

// ConnectionLimiter caps connection attempts per user in a sliding minute.
type ConnectionLimiter struct {
	perMinute int
	attempts  map[string][]time.Time
	mu        sync.Mutex
}

func NewConnectionLimiter(perMinute int) *ConnectionLimiter {
	return &ConnectionLimiter{perMinute: perMinute, attempts: make(map[string][]time.Time)}
}

func (w *ConnectionLimiter) AllowConnection(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	valid := w.attempts[userID][:0]
	for _, t := range w.attempts[userID] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= w.perMinute {
		w.attempts[userID] = valid
		return false
	}
	w.attempts[userID] = append(valid, now)
	return true
}

// RunCleanup drops idle users every interval until ctx is done.
func (w *ConnectionLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup()
		}
	}
}

func (w *ConnectionLimiter) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	for userID, times := range w.attempts {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(w.attempts, userID)
		}
	}
}
