package websocket

import (
	"context"

	"pulse-dm/internal/events"
	"pulse-dm/internal/repository"

	"github.com/google/uuid"
)

// ChannelAuthorizer handles authorization for room subscriptions
type ChannelAuthorizer struct {
	conversationRepo repository.ConversationRepository
}

func NewChannelAuthorizer(conversationRepo repository.ConversationRepository) *ChannelAuthorizer {
	return &ChannelAuthorizer{conversationRepo: conversationRepo}
}

// CanSubscribe checks if a user is authorized to subscribe to a channel
func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID string, channel string) (bool, error) {
	// User's own room - always allowed
	if owner, ok := events.ParseUserChannel(channel); ok {
		return owner == userID, nil
	}

	// Conversation rooms - participants only
	if convID, ok := events.ParseConversationChannel(channel); ok {
		return a.conversationRepo.IsParticipant(ctx, convID, userID)
	}

	// Default deny
	return false, nil
}

// Joinable filters requested to the conversations userID takes part in.
// An empty request means every conversation of the user.
func (a *ChannelAuthorizer) Joinable(ctx context.Context, userID string, requested []uuid.UUID) ([]uuid.UUID, error) {
	if len(requested) == 0 {
		return a.conversationRepo.ListIDsForUser(ctx, userID)
	}
	out := make([]uuid.UUID, 0, len(requested))
	for _, id := range requested {
		ok, err := a.CanSubscribe(ctx, userID, events.ConversationChannel(id))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
