package handler

import (
	"context"
	"net/http"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/repository"
	"pulse-dm/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationAPI interface {
	Resolve(ctx context.Context, requesterID, targetID string) (conversation.Conversation, bool, error)
	Get(ctx context.Context, userID string, conversationID uuid.UUID) (conversation.Summary, error)
	ListForUser(ctx context.Context, userID string, page, limit int) ([]conversation.Summary, error)
}

type ConversationHandler struct {
	service ConversationAPI
}

func NewConversationHandler(service ConversationAPI) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Resolve finds or creates the direct conversation with another user.
func (h *ConversationHandler) Resolve(c *gin.Context) {
	var req httpdto.ResolveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	conv, created, err := h.service.Resolve(c.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, httpdto.NewSuccessResponse(httpdto.ResolveConversationResponse{
		Conversation: conv,
		Created:      created,
	}))
}

func (h *ConversationHandler) List(c *gin.Context) {
	page, err := parseInt(c.Query("page"))
	if err != nil {
		badRequest(c, "invalid page")
		return
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	items, err := h.service.ListForUser(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if page < 1 {
		page = 1
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ListConversationsResponse{
		Conversations: items,
		Page:          page,
		Limit:         repository.ClampLimit(limit),
	}))
}

func (h *ConversationHandler) GetByID(c *gin.Context) {
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	summary, err := h.service.Get(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(summary))
}
