package httpdto

import "pulse-dm/internal/domain/conversation"

// ResolveConversationRequest opens (or finds) the direct conversation with UserID.
type ResolveConversationRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type ResolveConversationResponse struct {
	Conversation conversation.Conversation `json:"conversation"`
	Created      bool                      `json:"created"`
}

type ListConversationsResponse struct {
	Conversations []conversation.Summary `json:"conversations"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
}
