package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type typingKey struct {
	conversationID uuid.UUID
	userID         string
}

// TypingTracker keeps one expiry timer per (conversation, user). A timer that
// fires without renewal calls onExpire.
type TypingTracker struct {
	mu       sync.Mutex
	timers   map[typingKey]*time.Timer
	window   time.Duration
	onExpire func(conversationID uuid.UUID, userID string)
}

func NewTypingTracker(window time.Duration, onExpire func(conversationID uuid.UUID, userID string)) *TypingTracker {
	return &TypingTracker{
		timers:   make(map[typingKey]*time.Timer),
		window:   window,
		onExpire: onExpire,
	}
}

// Touch starts or renews the indicator. started is false on renewal.
func (t *TypingTracker) Touch(conversationID uuid.UUID, userID string) (started bool) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	_, exists := t.timers[key]

	var timer *time.Timer
	timer = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		// a renewal may have replaced this timer after it fired
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()
		if t.onExpire != nil {
			t.onExpire(conversationID, userID)
		}
	})
	t.timers[key] = timer
	return !exists
}

// Stop clears the indicator and reports whether it was active.
func (t *TypingTracker) Stop(conversationID uuid.UUID, userID string) bool {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// StopUser clears every indicator of userID and returns the affected conversations.
func (t *TypingTracker) StopUser(userID string) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []uuid.UUID
	for key, timer := range t.timers {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(t.timers, key)
		out = append(out, key.conversationID)
	}
	return out
}

func (t *TypingTracker) Active(conversationID uuid.UUID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typingKey{conversationID, userID}]
	return ok
}
