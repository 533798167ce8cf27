package services

import (
	"context"
	"slices"
	"time"

	"pulse-dm/internal/proxy"
	"pulse-dm/internal/repository"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const typingWindow = 3 * time.Second

// PresenceService owns the ephemeral per-user state: online status, typing
// indicators and the conversation a user has open. Store failures are logged
// and dropped.
type PresenceService struct {
	store   PresenceTracker
	convs   repository.ConversationRepository
	access  *proxy.AccessControl
	emitter EventEmitter
	typing  *TypingTracker
	logger  *zap.Logger
}

func NewPresenceService(store PresenceTracker, convs repository.ConversationRepository, access *proxy.AccessControl, emitter EventEmitter, logger *zap.Logger) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PresenceService{
		store:   store,
		convs:   convs,
		access:  access,
		emitter: emitter,
		logger:  logger.With(zap.String("component", "presence")),
	}
	s.typing = NewTypingTracker(typingWindow, s.expireTyping)
	return s
}

// Connected registers a socket. The user's first socket flips them online.
func (s *PresenceService) Connected(ctx context.Context, userID, clientID string) {
	first, err := s.store.Connect(ctx, userID, clientID)
	if err != nil {
		s.logger.Warn("presence connect failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if first {
		s.broadcastStatus(ctx, protocol.UserStatusPayload{UserID: userID, Online: true})
	}
}

// Disconnected unregisters a socket. The last one flips the user offline and
// clears their typing indicators.
func (s *PresenceService) Disconnected(ctx context.Context, userID, clientID string) {
	last, lastSeen, err := s.store.Disconnect(ctx, userID, clientID)
	if err != nil {
		s.logger.Warn("presence disconnect failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !last {
		return
	}
	for _, convID := range s.typing.StopUser(userID) {
		s.stopTyping(ctx, convID, userID)
	}
	s.broadcastStatus(ctx, protocol.UserStatusPayload{UserID: userID, Online: false, LastSeen: &lastSeen})
}

func (s *PresenceService) Heartbeat(ctx context.Context, userID string) {
	if err := s.store.Heartbeat(ctx, userID); err != nil {
		s.logger.Debug("presence heartbeat failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// SweepStale flips users whose heartbeat is older than maxAge offline and
// announces it. It returns how many were flipped.
func (s *PresenceService) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	flipped, err := s.store.CleanupStalePresence(ctx, maxAge)
	now := time.Now().UTC()
	for _, userID := range flipped {
		s.broadcastStatus(ctx, protocol.UserStatusPayload{UserID: userID, Online: false, LastSeen: &now})
	}
	return len(flipped), err
}

func (s *PresenceService) broadcastStatus(ctx context.Context, status protocol.UserStatusPayload) {
	ids, err := s.convs.ListIDsForUser(ctx, status.UserID)
	if err != nil {
		s.logger.Warn("list conversations for presence failed", zap.String("user_id", status.UserID), zap.Error(err))
		return
	}
	for _, id := range ids {
		s.emitter.ToConversation(ctx, id, protocol.UserStatusChange, status)
	}
}

// Typing starts or renews userID's indicator in a conversation.
func (s *PresenceService) Typing(ctx context.Context, userID string, conversationID uuid.UUID) error {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	s.typing.Touch(conversationID, userID)
	if err := s.store.TrackTyping(ctx, conversationID, userID, true); err != nil {
		s.logger.Debug("track typing failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.emitter.ToConversation(ctx, conversationID, protocol.Typing, protocol.TypingPayload{ConversationID: conversationID, UserID: userID})
	return nil
}

// StopTyping clears the indicator. Clearing an inactive indicator emits nothing.
func (s *PresenceService) StopTyping(ctx context.Context, userID string, conversationID uuid.UUID) error {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if s.typing.Stop(conversationID, userID) {
		s.stopTyping(ctx, conversationID, userID)
	}
	return nil
}

// TypingIn reports who besides userID is typing in each conversation.
// Conversations nobody is typing in are left out, as are those the store
// could not answer for.
func (s *PresenceService) TypingIn(ctx context.Context, userID string, conversationIDs []uuid.UUID) map[uuid.UUID][]string {
	out := make(map[uuid.UUID][]string)
	for _, id := range conversationIDs {
		users, err := s.store.GetTypingUsers(ctx, id)
		if err != nil {
			s.logger.Debug("load typing users failed", zap.String("conversation_id", id.String()), zap.Error(err))
			continue
		}
		users = slices.DeleteFunc(users, func(u string) bool { return u == userID })
		if len(users) > 0 {
			out[id] = users
		}
	}
	return out
}

func (s *PresenceService) expireTyping(conversationID uuid.UUID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.stopTyping(ctx, conversationID, userID)
}

func (s *PresenceService) stopTyping(ctx context.Context, conversationID uuid.UUID, userID string) {
	if err := s.store.TrackTyping(ctx, conversationID, userID, false); err != nil {
		s.logger.Debug("clear typing failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.emitter.ToConversation(ctx, conversationID, protocol.StopTyping, protocol.TypingPayload{ConversationID: conversationID, UserID: userID})
}

// OpenConversation records that userID has the conversation on screen, which
// suppresses unread notifications for it.
func (s *PresenceService) OpenConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.SetViewing(ctx, userID, conversationID); err != nil {
		s.logger.Warn("set viewing failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

func (s *PresenceService) CloseConversation(ctx context.Context, userID string, conversationID uuid.UUID) error {
	if err := s.store.ClearViewing(ctx, userID, conversationID); err != nil {
		s.logger.Warn("clear viewing failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}
