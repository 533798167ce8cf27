package httpdto

import (
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
)

// SendMessageRequest is shared with the socket sendMessage payload.
type SendMessageRequest = protocol.SendMessageRequest

type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest sets the caller's reaction. An empty reaction removes it.
type ReactionRequest struct {
	Reaction string `json:"reaction"`
}

type MarkReadRequest struct {
	MessageID *uuid.UUID `json:"messageId,omitempty"`
}

type MarkDeliveredRequest struct {
	MessageIDs []uuid.UUID `json:"messageIds,omitempty"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type ReactionsResponse struct {
	MessageID uuid.UUID         `json:"messageId"`
	Reactions map[string]string `json:"reactions"`
}
