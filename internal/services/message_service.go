package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/metrics"
	"pulse-dm/internal/proxy"
	"pulse-dm/internal/repository"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const previewLength = 100

// SendInput is one outgoing message. Either ConversationID or RecipientID
// must be set.
type SendInput struct {
	SenderID       string
	ConversationID *uuid.UUID
	RecipientID    string
	Content        string
	MessageType    message.Type
	Attachments    []message.Attachment
	ReplyTo        *uuid.UUID
	ClientTempID   string
}

// SendInputFromRequest maps a wire send request onto the service input.
func SendInputFromRequest(senderID string, req protocol.SendMessageRequest) SendInput {
	attachments := make([]message.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, message.Attachment{
			Type:      message.Type(a.Type),
			URL:       a.URL,
			Name:      a.Name,
			Size:      a.Size,
			Duration:  a.Duration,
			Thumbnail: a.Thumbnail,
		})
	}
	return SendInput{
		SenderID:       senderID,
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		MessageType:    message.Type(req.MessageType),
		Attachments:    attachments,
		ReplyTo:        req.ReplyTo,
		ClientTempID:   req.ClientTempID,
	}
}

// SentMessage is the newMessage payload. ClientTempID echoes the sender's
// placeholder id so the sending client can reconcile.
type SentMessage struct {
	message.Message
	ClientTempID string `json:"clientTempId,omitempty"`
}

type SendResult struct {
	Message      message.Message
	Conversation conversation.Conversation
	Created      bool
}

// Page is a keyset page request. Before is an opaque cursor from a previous page.
type Page struct {
	Before string
	Limit  int
}

type MessagePage struct {
	Messages   []message.Message `json:"messages"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type MessageService struct {
	repo     repository.MessageRepository
	convRepo repository.ConversationRepository
	resolver *ConversationService
	access   *proxy.AccessControl
	emitter  EventEmitter
	limiter  MessageLimiter
	verifier AttachmentVerifier
	viewing  ViewingTracker
	logger   *zap.Logger
	now      func() time.Time
}

type MessageServiceOption func(*MessageService)

// WithRateLimiter enables the per-user send limit.
func WithRateLimiter(l MessageLimiter) MessageServiceOption {
	return func(s *MessageService) { s.limiter = l }
}

// WithAttachmentVerifier enables the existence check of attachment objects.
func WithAttachmentVerifier(v AttachmentVerifier) MessageServiceOption {
	return func(s *MessageService) { s.verifier = v }
}

// WithViewingTracker suppresses notifications for recipients that have the
// conversation open.
func WithViewingTracker(v ViewingTracker) MessageServiceOption {
	return func(s *MessageService) { s.viewing = v }
}

func NewMessageService(
	repo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	resolver *ConversationService,
	access *proxy.AccessControl,
	emitter EventEmitter,
	logger *zap.Logger,
	opts ...MessageServiceOption,
) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MessageService{
		repo:     repo,
		convRepo: convRepo,
		resolver: resolver,
		access:   access,
		emitter:  emitter,
		logger:   logger.With(zap.String("component", "messages")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send validates, persists and fans out a message.
func (s *MessageService) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if in.MessageType == "" {
		in.MessageType = message.TypeText
	}
	if err := message.ValidateContent(in.MessageType, in.Content); err != nil {
		return SendResult{}, err
	}
	if err := message.ValidateAttachments(in.Attachments); err != nil {
		return SendResult{}, err
	}

	if s.limiter != nil {
		res, err := s.limiter.AllowMessage(ctx, in.SenderID)
		if err != nil {
			// fail open, Redis outages must not stop messaging
			s.logger.Warn("rate limit check failed", zap.String("user_id", in.SenderID), zap.Error(err))
		} else if !res.Allowed {
			return SendResult{}, fmt.Errorf("%w: retry in %s", pulse_errors.ErrRateExceeded, res.ResetIn)
		}
	}

	conv, created, err := s.conversationFor(ctx, in)
	if err != nil {
		return SendResult{}, err
	}

	if in.ReplyTo != nil {
		parent, err := s.repo.GetByID(ctx, *in.ReplyTo)
		if errors.Is(err, pulse_errors.ErrNotFound) || (err == nil && parent.ConversationID != conv.ID) {
			return SendResult{}, fmt.Errorf("%w: reply target is not in this conversation", pulse_errors.ErrValidation)
		}
		if err != nil {
			return SendResult{}, err
		}
	}

	if s.verifier != nil {
		for _, a := range in.Attachments {
			if err := s.verifier.VerifyURL(ctx, a.URL); err != nil {
				return SendResult{}, err
			}
		}
	}

	m := &message.Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.MessageType,
		Attachments:    in.Attachments,
		ReplyTo:        in.ReplyTo,
		ReadBy:         []string{},
		DeliveredTo:    []string{},
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return SendResult{}, err
	}
	metrics.MessagesSentTotal.WithLabelValues(string(m.Type)).Inc()

	if full, err := s.repo.GetByID(ctx, m.ID); err == nil {
		*m = full
	} else {
		s.logger.Warn("reload sent message failed", zap.String("message_id", m.ID.String()), zap.Error(err))
	}

	s.emitter.ToConversation(ctx, conv.ID, protocol.NewMessage, SentMessage{Message: *m, ClientTempID: in.ClientTempID})
	s.notify(ctx, conv, *m)

	return SendResult{Message: *m, Conversation: conv, Created: created}, nil
}

func (s *MessageService) conversationFor(ctx context.Context, in SendInput) (conversation.Conversation, bool, error) {
	if in.ConversationID == nil {
		if strings.TrimSpace(in.RecipientID) == "" {
			return conversation.Conversation{}, false, fmt.Errorf("%w: conversationId or recipientId is required", pulse_errors.ErrValidation)
		}
		return s.resolver.Resolve(ctx, in.SenderID, in.RecipientID)
	}
	if err := s.access.CanSendMessage(ctx, in.SenderID, *in.ConversationID); err != nil {
		return conversation.Conversation{}, false, err
	}
	conv, err := s.convRepo.GetByID(ctx, *in.ConversationID)
	return conv, false, err
}

// notify tells the recipient about a message in a conversation they do not
// have open.
func (s *MessageService) notify(ctx context.Context, conv conversation.Conversation, m message.Message) {
	recipient := conv.Other(m.SenderID)
	if s.viewing != nil {
		viewing, err := s.viewing.IsViewing(ctx, recipient, conv.ID)
		if err != nil {
			s.logger.Warn("viewing lookup failed", zap.String("user_id", recipient), zap.Error(err))
		}
		if viewing {
			return
		}
	}
	unread, err := s.repo.TotalUnread(ctx, recipient)
	if err != nil {
		s.logger.Warn("unread count failed", zap.String("user_id", recipient), zap.Error(err))
	}
	s.emitter.ToUser(ctx, recipient, protocol.NewMessageNotification, protocol.NotificationPayload{
		ConversationID: conv.ID,
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		Preview:        preview(m),
		UnreadCount:    unread,
	})
}

func preview(m message.Message) string {
	if strings.TrimSpace(m.Content) == "" {
		return "[" + string(m.Type) + "]"
	}
	r := []rune(m.Content)
	if len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return m.Content
}

// Edit replaces the content of a text message sent by userID.
func (s *MessageService) Edit(ctx context.Context, userID string, messageID uuid.UUID, content string) (message.Message, error) {
	m, err := s.visibleMessage(ctx, userID, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.IsDeleted() {
		return message.Message{}, pulse_errors.ErrNotFound
	}
	if m.SenderID != userID {
		return message.Message{}, fmt.Errorf("%w: only the sender can edit a message", pulse_errors.ErrForbidden)
	}
	if m.Type != message.TypeText {
		return message.Message{}, fmt.Errorf("%w: only text messages can be edited", pulse_errors.ErrValidation)
	}
	if err := message.ValidateContent(m.Type, content); err != nil {
		return message.Message{}, err
	}

	updated, err := s.repo.UpdateContent(ctx, messageID, content)
	if err != nil {
		return message.Message{}, err
	}
	s.emitter.ToConversation(ctx, updated.ConversationID, protocol.MessageEdited, updated)
	return updated, nil
}

// Delete soft-deletes a message. Deleting twice is a no-op.
func (s *MessageService) Delete(ctx context.Context, userID string, messageID uuid.UUID) error {
	m, err := s.visibleMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.access.CanModifyMessage(ctx, userID, m); err != nil {
		return err
	}
	if m.IsDeleted() {
		return nil
	}

	if _, err := s.repo.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	s.emitter.ToConversation(ctx, m.ConversationID, protocol.MessageDeleted, protocol.MessageDeletedPayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
	})
	return nil
}

// React sets userID's reaction on a message. An empty reaction removes it.
func (s *MessageService) React(ctx context.Context, userID string, messageID uuid.UUID, reaction string) (map[string]string, error) {
	reaction = strings.TrimSpace(reaction)
	if err := message.ValidateReaction(reaction); err != nil {
		return nil, err
	}
	m, err := s.visibleMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted() {
		return nil, pulse_errors.ErrNotFound
	}

	updated, err := s.repo.SetReaction(ctx, messageID, userID, reaction)
	if err != nil {
		return nil, err
	}
	reactions := updated.Reactions
	if reactions == nil {
		reactions = map[string]string{}
	}
	s.emitter.ToConversation(ctx, m.ConversationID, protocol.ReactionUpdated, protocol.ReactionUpdatedPayload{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Reactions:      reactions,
	})
	return reactions, nil
}

// MarkRead records that userID read one message, or every message of the
// conversation when messageID is nil. It returns how many messages changed.
func (s *MessageService) MarkRead(ctx context.Context, userID string, conversationID uuid.UUID, messageID *uuid.UUID) (int, error) {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	changed, err := s.repo.MarkRead(ctx, conversationID, userID, messageID)
	if err != nil {
		return 0, err
	}
	if len(changed) == 0 {
		if messageID != nil {
			return 0, s.requireLive(ctx, conversationID, []uuid.UUID{*messageID})
		}
		return 0, nil
	}

	now := s.now()
	if messageID != nil {
		s.emitter.ToConversation(ctx, conversationID, protocol.MessageRead, protocol.MessageReadPayload{
			ConversationID: conversationID,
			MessageID:      *messageID,
			UserID:         userID,
			ReadAt:         now,
		})
		return len(changed), nil
	}
	s.emitter.ToConversation(ctx, conversationID, protocol.ConversationRead, protocol.ConversationReadPayload{
		ConversationID: conversationID,
		UserID:         userID,
		MessageIDs:     changed,
		Count:          len(changed),
		ReadAt:         now,
	})
	return len(changed), nil
}

// MarkDelivered records delivery of messageIDs to userID. Ids that are not
// live messages of the conversation fail the call with ErrNotFound; the
// others are still recorded and announced.
func (s *MessageService) MarkDelivered(ctx context.Context, userID string, conversationID uuid.UUID, messageIDs []uuid.UUID) (int, error) {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	changed, err := s.repo.MarkDelivered(ctx, conversationID, userID, messageIDs)
	if err != nil {
		return 0, err
	}
	if len(changed) > 0 {
		s.emitter.ToConversation(ctx, conversationID, protocol.MessageDelivered, protocol.MessageDeliveredPayload{
			ConversationID: conversationID,
			MessageIDs:     changed,
			UserID:         userID,
		})
	}
	if len(changed) < len(messageIDs) {
		if err := s.requireLive(ctx, conversationID, messageIDs); err != nil {
			return len(changed), err
		}
	}
	return len(changed), nil
}

// requireLive fails with ErrNotFound unless every id is an undeleted message
// of the conversation.
func (s *MessageService) requireLive(ctx context.Context, conversationID uuid.UUID, ids []uuid.UUID) error {
	live, err := s.repo.LiveIDs(ctx, conversationID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.Contains(live, id) {
			return fmt.Errorf("%w: message %s", pulse_errors.ErrNotFound, id)
		}
	}
	return nil
}

// List returns one page of live messages, newest first.
func (s *MessageService) List(ctx context.Context, userID string, conversationID uuid.UUID, page Page) (MessagePage, error) {
	return s.page(ctx, userID, conversationID, page, func(before *repository.Cursor, limit int) ([]message.Message, error) {
		return s.repo.List(ctx, conversationID, before, limit)
	})
}

// Search is List filtered by a case-insensitive substring of the content.
func (s *MessageService) Search(ctx context.Context, userID string, conversationID uuid.UUID, query string, page Page) (MessagePage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return MessagePage{}, fmt.Errorf("%w: search query is required", pulse_errors.ErrValidation)
	}
	return s.page(ctx, userID, conversationID, page, func(before *repository.Cursor, limit int) ([]message.Message, error) {
		return s.repo.Search(ctx, conversationID, query, before, limit)
	})
}

func (s *MessageService) page(
	ctx context.Context,
	userID string,
	conversationID uuid.UUID,
	page Page,
	fetch func(before *repository.Cursor, limit int) ([]message.Message, error),
) (MessagePage, error) {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return MessagePage{}, err
	}
	before, err := repository.DecodeCursor(page.Before)
	if err != nil {
		return MessagePage{}, err
	}
	limit := repository.ClampLimit(page.Limit)

	msgs, err := fetch(before, limit)
	if err != nil {
		return MessagePage{}, err
	}
	out := MessagePage{Messages: msgs}
	if len(msgs) == limit {
		last := msgs[len(msgs)-1]
		out.NextCursor = repository.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return out, nil
}

// Since returns everything that changed after since, oldest first, with
// deleted messages as tombstones. Clients use it to fill gaps after a reconnect.
func (s *MessageService) Since(ctx context.Context, userID string, conversationID uuid.UUID, since time.Time) ([]message.Message, error) {
	if err := s.access.CanViewConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.Since(ctx, conversationID, since, repository.MaxSinceRows)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = msgs[i].Tombstone()
	}
	return msgs, nil
}

// Get returns one message. Deleted messages come back redacted.
func (s *MessageService) Get(ctx context.Context, userID string, messageID uuid.UUID) (message.Message, error) {
	m, err := s.visibleMessage(ctx, userID, messageID)
	if err != nil {
		return message.Message{}, err
	}
	return m.Tombstone(), nil
}

// UnreadCount counts messages sent to userID that they have not read.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.TotalUnread(ctx, userID)
}

func (s *MessageService) visibleMessage(ctx context.Context, userID string, messageID uuid.UUID) (message.Message, error) {
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if err := s.access.CanViewConversation(ctx, userID, m.ConversationID); err != nil {
		return message.Message{}, err
	}
	return m, nil
}
