package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/user"
	redisstore "pulse-dm/internal/redis"
	"pulse-dm/internal/repository"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Eligibility gates the creation of new conversations.
type Eligibility interface {
	IsMutualFollow(ctx context.Context, a, b string) (bool, error)
}

// ConversationService resolves the single two-party conversation between
// users and builds inbox summaries.
type ConversationService struct {
	repo     repository.ConversationRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	follows  Eligibility
	emitter  EventEmitter
	presence PresenceReader
	logger   *zap.Logger
}

type ConversationServiceOption func(*ConversationService)

// WithPresenceReader fills in the peer's online state on summaries.
func WithPresenceReader(p PresenceReader) ConversationServiceOption {
	return func(s *ConversationService) { s.presence = p }
}

func NewConversationService(
	repo repository.ConversationRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	follows Eligibility,
	emitter EventEmitter,
	logger *zap.Logger,
	opts ...ConversationServiceOption,
) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ConversationService{
		repo:     repo,
		messages: messages,
		users:    users,
		follows:  follows,
		emitter:  emitter,
		logger:   logger.With(zap.String("component", "conversations")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the conversation between requester and target, creating it
// when the two follow each other. The lookup is symmetric.
func (s *ConversationService) Resolve(ctx context.Context, requesterID, targetID string) (conversation.Conversation, bool, error) {
	requesterID = strings.TrimSpace(requesterID)
	targetID = strings.TrimSpace(targetID)
	if requesterID == "" || targetID == "" {
		return conversation.Conversation{}, false, fmt.Errorf("%w: recipient is required", pulse_errors.ErrValidation)
	}
	if requesterID == targetID {
		return conversation.Conversation{}, false, fmt.Errorf("%w: cannot message yourself", pulse_errors.ErrValidation)
	}

	existing, err := s.repo.FindByPair(ctx, requesterID, targetID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pulse_errors.ErrNotFound) {
		return conversation.Conversation{}, false, err
	}

	mutual, err := s.follows.IsMutualFollow(ctx, requesterID, targetID)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	if !mutual {
		return conversation.Conversation{}, false, fmt.Errorf("%w: not eligible to message this user", pulse_errors.ErrForbidden)
	}

	c, created, err := s.repo.FindOrCreate(ctx, requesterID, targetID)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	if created {
		s.announce(ctx, c)
	}
	return c, created, nil
}

// announce sends newConversation to both participants, each with the other
// participant as peer.
func (s *ConversationService) announce(ctx context.Context, c conversation.Conversation) {
	profiles, err := s.users.GetByIDs(ctx, c.Participants[:])
	if err != nil {
		s.logger.Warn("load participant profiles failed", zap.String("conversation_id", c.ID.String()), zap.Error(err))
		profiles = map[string]user.Profile{}
	}
	for _, id := range c.Participants {
		peerID := c.Other(id)
		peer, ok := profiles[peerID]
		if !ok {
			peer = user.Profile{ID: peerID}
		}
		s.emitter.ToUser(ctx, id, protocol.NewConversation, conversation.Summary{Conversation: c, Peer: conversation.Peer{Profile: peer}})
	}
}

// Get returns the summary of one conversation. Absent and foreign
// conversations are both ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, userID string, conversationID uuid.UUID) (conversation.Summary, error) {
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Summary{}, err
	}
	if !c.HasParticipant(userID) {
		return conversation.Summary{}, pulse_errors.ErrNotFound
	}
	out, err := s.summarize(ctx, userID, []conversation.Conversation{c})
	if err != nil {
		return conversation.Summary{}, err
	}
	return out[0], nil
}

// ListForUser returns the inbox ordered by last activity, newest first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, page, limit int) ([]conversation.Summary, error) {
	limit = repository.ClampLimit(limit)
	if page < 1 {
		page = 1
	}
	convs, err := s.repo.ListForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, userID, convs)
}

// ConversationIDs lists every conversation userID takes part in.
func (s *ConversationService) ConversationIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	return s.repo.ListIDsForUser(ctx, userID)
}

func (s *ConversationService) summarize(ctx context.Context, userID string, convs []conversation.Conversation) ([]conversation.Summary, error) {
	out := make([]conversation.Summary, 0, len(convs))
	if len(convs) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(convs))
	peerIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
		peerIDs = append(peerIDs, c.Other(userID))
	}

	peers, err := s.users.GetByIDs(ctx, peerIDs)
	if err != nil {
		return nil, err
	}
	latest, err := s.messages.LatestByConversation(ctx, ids)
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadByConversation(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	statuses := s.peerPresence(ctx, peerIDs)

	for _, c := range convs {
		peerID := c.Other(userID)
		peer, ok := peers[peerID]
		if !ok {
			peer = user.Profile{ID: peerID}
		}
		sum := conversation.Summary{Conversation: c, Peer: conversation.Peer{Profile: peer}, UnreadCount: unread[c.ID]}
		if st, ok := statuses[peerID]; ok && st != nil {
			sum.Peer.Online = st.IsOnline
			if !st.IsOnline && !st.LastSeen.IsZero() {
				seen := st.LastSeen
				sum.Peer.LastSeen = &seen
			}
		}
		if m, ok := latest[c.ID]; ok {
			last := m
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}
	return out, nil
}


// peerPresence logs failures and leaves presence unset.
func (s *ConversationService) peerPresence(ctx context.Context, peerIDs []string) map[string]*redisstore.PresenceStatus {
	if s.presence == nil {
		return nil
	}
	statuses, err := s.presence.GetMultiplePresence(ctx, peerIDs)
	if err != nil {
		s.logger.Warn("load peer presence failed", zap.Int("peers", len(peerIDs)), zap.Error(err))
		return nil
	}
	return statuses
}
