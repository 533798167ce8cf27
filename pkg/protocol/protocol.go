// Package protocol defines the socket wire format shared by the server and
// the Go client: event names, the frame envelope and event payloads.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names a socket event. Values are the on-the-wire event names.
type Kind string

// Client to server.
const (
	SendMessage       Kind = "sendMessage"
	EditMessage       Kind = "editMessage"
	JoinConversations Kind = "joinConversations"
	OpenConversation  Kind = "openConversation"
	CloseConversation Kind = "closeConversation"
	MarkRead          Kind = "markRead"
	MarkDelivered     Kind = "markDelivered"
	Ping              Kind = "ping"
)

// Both directions.
const (
	Typing     Kind = "typing"
	StopTyping Kind = "stopTyping"
)

// Server to client.
const (
	NewMessage             Kind = "newMessage"
	MessageEdited          Kind = "messageEdited"
	MessageDeleted         Kind = "messageDeleted"
	MessageRead            Kind = "messageRead"
	ConversationRead       Kind = "conversationRead"
	MessageDelivered       Kind = "messageDelivered"
	ReactionUpdated        Kind = "reactionUpdated"
	UserStatusChange       Kind = "userStatusChange"
	NewConversation        Kind = "newConversation"
	NewMessageNotification Kind = "newMessageNotification"
	Ack                    Kind = "ack"
	Error                  Kind = "error"
	Pong                   Kind = "pong"
)

var clientKinds = map[Kind]struct{}{
	SendMessage: {}, EditMessage: {}, JoinConversations: {}, OpenConversation: {},
	CloseConversation: {}, MarkRead: {}, MarkDelivered: {}, Ping: {},
	Typing: {}, StopTyping: {},
}

var serverKinds = map[Kind]struct{}{
	NewMessage: {}, MessageEdited: {}, MessageDeleted: {}, MessageRead: {},
	ConversationRead: {}, MessageDelivered: {}, ReactionUpdated: {}, UserStatusChange: {},
	NewConversation: {}, NewMessageNotification: {}, Ack: {}, Error: {}, Pong: {},
	Typing: {}, StopTyping: {},
}

// FromClient reports whether clients may send k.
func (k Kind) FromClient() bool {
	_, ok := clientKinds[k]
	return ok
}

// FromServer reports whether the server emits k.
func (k Kind) FromServer() bool {
	_, ok := serverKinds[k]
	return ok
}

// ServerKinds lists every server-emitted event.
func ServerKinds() []Kind {
	out := make([]Kind, 0, len(serverKinds))
	for k := range serverKinds {
		out = append(out, k)
	}
	return out
}

// Frame is one socket message in either direction.
type Frame struct {
	Event     Kind            `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into a frame for kind.
func Encode(kind Kind, requestID string, data any) ([]byte, error) {
	f := Frame{Event: kind, RequestID: requestID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// Decode unmarshals a frame and, when v is non-nil, its data.
func Decode(b []byte, v any) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	if v != nil && len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, v); err != nil {
			return f, err
		}
	}
	return f, nil
}

type Attachment struct {
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Name      string   `json:"name,omitempty"`
	Size      int64    `json:"size,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
}

// SendMessageRequest is the body of sendMessage and of POST /messages.
// Either ConversationID or RecipientID must be set.
type SendMessageRequest struct {
	ConversationID *uuid.UUID   `json:"conversationId,omitempty"`
	RecipientID    string       `json:"recipientId,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID   `json:"replyTo,omitempty"`
	ClientTempID   string       `json:"clientTempId,omitempty"`
}

type EditMessageRequest struct {
	MessageID uuid.UUID `json:"messageId"`
	Content   string    `json:"content"`
}

type JoinConversationsRequest struct {
	ConversationIDs []uuid.UUID `json:"conversationIds,omitempty"`
}

// JoinConversationsAck lists the rooms actually joined and, per room, the
// other participants typing at join time.
type JoinConversationsAck struct {
	ConversationIDs []uuid.UUID            `json:"conversationIds"`
	Typing          map[uuid.UUID][]string `json:"typing,omitempty"`
}

// ConversationRef carries a single conversation id (typing, open, close).
type ConversationRef struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type MarkReadRequest struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	MessageID      *uuid.UUID `json:"messageId,omitempty"`
}

type MarkDeliveredRequest struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageIDs     []uuid.UUID `json:"messageIds,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
}

type MessageReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type ConversationReadPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	UserID         string      `json:"userId"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
	Count          int         `json:"count"`
	ReadAt         time.Time   `json:"readAt"`
}

type MessageDeliveredPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
	UserID         string      `json:"userId"`
}

type ReactionUpdatedPayload struct {
	ConversationID uuid.UUID         `json:"conversationId"`
	MessageID      uuid.UUID         `json:"messageId"`
	Reactions      map[string]string `json:"reactions"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         string    `json:"userId"`
}

type UserStatusPayload struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type NotificationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Preview        string    `json:"preview"`
	UnreadCount    int64     `json:"unreadCount"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
