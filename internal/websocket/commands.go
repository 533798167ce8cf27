package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/events"
	"pulse-dm/internal/services"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MessageCommands interface {
	Send(ctx context.Context, in services.SendInput) (services.SendResult, error)
	Edit(ctx context.Context, userID string, messageID uuid.UUID, content string) (message.Message, error)
	MarkRead(ctx context.Context, userID string, conversationID uuid.UUID, messageID *uuid.UUID) (int, error)
	MarkDelivered(ctx context.Context, userID string, conversationID uuid.UUID, messageIDs []uuid.UUID) (int, error)
}

type PresenceCommands interface {
	Connected(ctx context.Context, userID, clientID string)
	Disconnected(ctx context.Context, userID, clientID string)
	Heartbeat(ctx context.Context, userID string)
	Typing(ctx context.Context, userID string, conversationID uuid.UUID) error
	StopTyping(ctx context.Context, userID string, conversationID uuid.UUID) error
	OpenConversation(ctx context.Context, userID string, conversationID uuid.UUID) error
	CloseConversation(ctx context.Context, userID string, conversationID uuid.UUID) error
	TypingIn(ctx context.Context, userID string, conversationIDs []uuid.UUID) map[uuid.UUID][]string
}

// Commands are the services socket frames are dispatched to.
type Commands struct {
	Messages   MessageCommands
	Presence   PresenceCommands
	Authorizer *ChannelAuthorizer
}

type countReply struct {
	Count int `json:"count"`
}

// handleMessage decodes one client frame, runs it and replies. Frames that
// carry a requestId get an ack on success; failures always get an error frame.
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(protocol.Error, "", protocol.ErrorPayload{Code: pulse_errors.Code(pulse_errors.ErrValidation), Message: "malformed frame"})
		return
	}
	if !frame.Event.FromClient() {
		c.replyError(frame.RequestID, fmt.Errorf("%w: unknown event %q", pulse_errors.ErrValidation, frame.Event))
		return
	}
	if !c.rateLimiter.Allow(frame.Event) {
		c.logger.Warn("rate_limited", c.UserID, c.ID, zap.String("msg_type", string(frame.Event)))
		c.replyError(frame.RequestID, pulse_errors.ErrRateExceeded)
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	data, err := c.dispatch(cmdCtx, frame)
	if err != nil {
		if code := pulse_errors.Code(err); code == "INTERNAL_ERROR" {
			c.logger.Error("command_failed", c.UserID, c.ID, err, zap.String("msg_type", string(frame.Event)))
		}
		c.replyError(frame.RequestID, err)
		return
	}
	if frame.Event == protocol.Ping {
		c.reply(protocol.Pong, frame.RequestID, nil)
		return
	}
	if frame.RequestID != "" {
		c.reply(protocol.Ack, frame.RequestID, data)
	}
}

func (c *Client) dispatch(ctx context.Context, frame protocol.Frame) (any, error) {
	switch frame.Event {
	case protocol.Ping:
		if c.commands.Presence != nil {
			c.commands.Presence.Heartbeat(ctx, c.UserID)
		}
		return nil, nil

	case protocol.SendMessage:
		var req protocol.SendMessageRequest
		if err := decodeData(frame, &req); err != nil {
			return nil, err
		}
		res, err := c.commands.Messages.Send(ctx, services.SendInputFromRequest(c.UserID, req))
		if err != nil {
			return nil, err
		}
		return services.SentMessage{Message: res.Message, ClientTempID: req.ClientTempID}, nil

	case protocol.EditMessage:
		var req protocol.EditMessageRequest
		if err := decodeData(frame, &req); err != nil {
			return nil, err
		}
		return c.commands.Messages.Edit(ctx, c.UserID, req.MessageID, req.Content)

	case protocol.MarkRead:
		var req protocol.MarkReadRequest
		if err := decodeData(frame, &req); err != nil {
			return nil, err
		}
		n, err := c.commands.Messages.MarkRead(ctx, c.UserID, req.ConversationID, req.MessageID)
		return countReply{Count: n}, err

	case protocol.MarkDelivered:
		var req protocol.MarkDeliveredRequest
		if err := decodeData(frame, &req); err != nil {
			return nil, err
		}
		n, err := c.commands.Messages.MarkDelivered(ctx, c.UserID, req.ConversationID, req.MessageIDs)
		return countReply{Count: n}, err

	case protocol.JoinConversations:
		var req protocol.JoinConversationsRequest
		if err := decodeData(frame, &req); err != nil {
			return nil, err
		}
		ids, err := c.commands.Authorizer.Joinable(ctx, c.UserID, req.ConversationIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if err := c.hub.Subscribe(ctx, c, events.ConversationChannel(id)); err != nil {
				return nil, fmt.Errorf("%w: join rooms: %v", pulse_errors.ErrTransport, err)
			}
		}
		ack := protocol.JoinConversationsAck{ConversationIDs: ids}
		if c.commands.Presence != nil {
			ack.Typing = c.commands.Presence.TypingIn(ctx, c.UserID, ids)
		}
		return ack, nil

	case protocol.Typing, protocol.StopTyping, protocol.OpenConversation, protocol.CloseConversation:
		var ref protocol.ConversationRef
		if err := decodeData(frame, &ref); err != nil {
			return nil, err
		}
		if ref.ConversationID == uuid.Nil {
			return nil, fmt.Errorf("%w: conversationId is required", pulse_errors.ErrValidation)
		}
		return nil, c.presenceCommand(ctx, frame.Event, ref.ConversationID)
	}
	return nil, fmt.Errorf("%w: unsupported event %q", pulse_errors.ErrValidation, frame.Event)
}

func (c *Client) presenceCommand(ctx context.Context, kind protocol.Kind, conversationID uuid.UUID) error {
	p := c.commands.Presence
	if p == nil {
		return nil
	}
	switch kind {
	case protocol.Typing:
		return p.Typing(ctx, c.UserID, conversationID)
	case protocol.StopTyping:
		return p.StopTyping(ctx, c.UserID, conversationID)
	case protocol.OpenConversation:
		return p.OpenConversation(ctx, c.UserID, conversationID)
	default:
		return p.CloseConversation(ctx, c.UserID, conversationID)
	}
}

func decodeData(frame protocol.Frame, v any) error {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: invalid %s payload", pulse_errors.ErrValidation, frame.Event)
	}
	return nil
}

func (c *Client) reply(kind protocol.Kind, requestID string, data any) {
	payload, err := protocol.Encode(kind, requestID, data)
	if err != nil {
		c.logger.Error("encode_reply", c.UserID, c.ID, err)
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("reply_dropped", c.UserID, c.ID, zap.String("msg_type", string(kind)))
	}
}

func (c *Client) replyError(requestID string, err error) {
	msg := err.Error()
	if errors.Is(err, pulse_errors.ErrNotFound) {
		msg = "not found"
	} else if pulse_errors.Code(err) == "INTERNAL_ERROR" {
		msg = "internal error"
	}
	c.reply(protocol.Error, requestID, protocol.ErrorPayload{Code: pulse_errors.Code(err), Message: msg})
}
