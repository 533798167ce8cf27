package services

import (
	"context"
	"time"

	"pulse-dm/internal/domain/user"
	redisstore "pulse-dm/internal/redis"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
)

// EventEmitter routes server events to rooms. Implemented by events.Emitter.
type EventEmitter interface {
	ToUser(ctx context.Context, userID string, kind protocol.Kind, data any)
	ToConversation(ctx context.Context, conversationID uuid.UUID, kind protocol.Kind, data any)
}

// MessageLimiter is the per-user send limiter. Implemented by redis.RateLimiter.
type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redisstore.RateLimitResult, error)
}

// AttachmentVerifier checks that an attachment URL points at a stored object.
type AttachmentVerifier interface {
	VerifyURL(ctx context.Context, raw string) error
}

type ViewingTracker interface {
	SetViewing(ctx context.Context, userID string, conversationID uuid.UUID) error
	ClearViewing(ctx context.Context, userID string, conversationID uuid.UUID) error
	IsViewing(ctx context.Context, userID string, conversationID uuid.UUID) (bool, error)
}

// PresenceTracker is the subset of redis.PresenceStore the presence service needs.
type PresenceTracker interface {
	ViewingTracker
	Connect(ctx context.Context, userID, clientID string) (bool, error)
	Disconnect(ctx context.Context, userID, clientID string) (bool, time.Time, error)
	Heartbeat(ctx context.Context, userID string) error
	TrackTyping(ctx context.Context, conversationID uuid.UUID, userID string, isTyping bool) error
	GetTypingUsers(ctx context.Context, conversationID uuid.UUID) ([]string, error)
	CleanupStalePresence(ctx context.Context, maxAge time.Duration) ([]string, error)
}

// PresenceReader reports who is online. Implemented by redis.PresenceStore.
type PresenceReader interface {
	GetMultiplePresence(ctx context.Context, userIDs []string) (map[string]*redisstore.PresenceStatus, error)
}

type UserCache interface {
	GetUser(ctx context.Context, userID string) (*user.Profile, error)
	SetUser(ctx context.Context, p user.Profile) error
}

type FollowCache interface {
	GetMutualFollow(ctx context.Context, a, b string) (mutual bool, hit bool, err error)
	SetMutualFollow(ctx context.Context, a, b string, mutual bool) error
}
