package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"
)

type UserRepository interface {
	Upsert(ctx context.Context, p user.Profile) error
	GetByID(ctx context.Context, id string) (user.Profile, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]user.Profile, error)
}

type FollowRepository interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	IsMutual(ctx context.Context, a, b string) (bool, error)
}

type ConversationRepository interface {
	// FindOrCreate returns the conversation for the unordered pair, creating
	// it with initiator first when absent. created reports which happened.
	FindOrCreate(ctx context.Context, initiatorID, recipientID string) (c conversation.Conversation, created bool, err error)
	FindByPair(ctx context.Context, a, b string) (conversation.Conversation, error)
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]conversation.Conversation, error)
	ListIDsForUser(ctx context.Context, userID string) ([]uuid.UUID, error)
	IsParticipant(ctx context.Context, id uuid.UUID, userID string) (bool, error)
}

type MessageRepository interface {
	// Create inserts m and bumps the conversation's last activity in one transaction.
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	// UpdateContent and SoftDelete stamp edited_at, deleted_at and updated_at
	// with the database clock, like every other write.
	UpdateContent(ctx context.Context, id uuid.UUID, content string) (message.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (message.Message, error)
	SetReaction(ctx context.Context, id uuid.UUID, userID, reaction string) (message.Message, error)

	// MarkRead adds userID to read_by (and delivered_to) of messages the user
	// received. A nil messageID marks the whole conversation. Only changed ids
	// are returned.
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, messageID *uuid.UUID) ([]uuid.UUID, error)
	MarkDelivered(ctx context.Context, conversationID uuid.UUID, userID string, messageIDs []uuid.UUID) ([]uuid.UUID, error)
	// LiveIDs returns the subset of ids that are undeleted messages of the conversation.
	LiveIDs(ctx context.Context, conversationID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)

	List(ctx context.Context, conversationID uuid.UUID, before *Cursor, limit int) ([]message.Message, error)
	Search(ctx context.Context, conversationID uuid.UUID, query string, before *Cursor, limit int) ([]message.Message, error)
	Since(ctx context.Context, conversationID uuid.UUID, since time.Time, limit int) ([]message.Message, error)

	LatestByConversation(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]message.Message, error)
	UnreadByConversation(ctx context.Context, userID string, conversationIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)

	// PurgeDeleted erases stored content of messages deleted before cutoff.
	PurgeDeleted(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}
