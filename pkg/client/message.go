package client

import (
	"strings"
	"time"

	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
)

// TempIDPrefix marks optimistic placeholders that the server has not stored yet.
const TempIDPrefix = "temp-"

type Attachment = protocol.Attachment

// Message is the client copy of a stored message. ID is a string so that
// placeholders can carry temp- ids.
type Message struct {
	ID             string            `json:"id"`
	ConversationID uuid.UUID         `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Type           string            `json:"messageType"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID        `json:"replyTo,omitempty"`
	Reactions      map[string]string `json:"reactions,omitempty"`
	EditedAt       *time.Time        `json:"editedAt,omitempty"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
	ReadBy         []string          `json:"readBy"`
	DeliveredTo    []string          `json:"deliveredTo"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ClientTempID   string            `json:"clientTempId,omitempty"`

	Sender *Profile `json:"sender,omitempty"`
}

// Pending reports whether m is an optimistic placeholder.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Peer is the other participant. LastSeen is set only while offline.
type Peer struct {
	Profile
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type Conversation struct {
	ID             uuid.UUID `json:"id"`
	Participants   [2]string `json:"participants"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// ConversationSummary is one inbox row.
type ConversationSummary struct {
	Conversation
	Peer        Peer     `json:"peer"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}
