package proxy

import (
	"context"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/repository"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/google/uuid"
)

// AccessControl decides who may touch a conversation. Non-participants get
// ErrNotFound so conversation ids do not leak.
type AccessControl struct {
	conversationRepo repository.ConversationRepository
}

func NewAccessControl(conversationRepo repository.ConversationRepository) *AccessControl {
	return &AccessControl{conversationRepo: conversationRepo}
}

func (a *AccessControl) CanSendMessage(ctx context.Context, userID string, conversationID uuid.UUID) error {
	return a.ensureParticipant(ctx, conversationID, userID)
}

func (a *AccessControl) CanViewConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	return a.ensureParticipant(ctx, conversationID, userID)
}

// CanModifyMessage allows edits and deletes by the sender only.
func (a *AccessControl) CanModifyMessage(ctx context.Context, userID string, m message.Message) error {
	if err := a.ensureParticipant(ctx, m.ConversationID, userID); err != nil {
		return err
	}
	if m.SenderID != userID {
		return pulse_errors.ErrForbidden
	}
	return nil
}

func (a *AccessControl) ensureParticipant(ctx context.Context, conversationID uuid.UUID, userID string) error {
	if a.conversationRepo == nil {
		return pulse_errors.ErrForbidden
	}
	ok, err := a.conversationRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return pulse_errors.ErrNotFound
	}
	return nil
}
