package handler

import (
	"context"
	"net/http"
	"time"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/services"
	"pulse-dm/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageAPI interface {
	Send(ctx context.Context, in services.SendInput) (services.SendResult, error)
	Edit(ctx context.Context, userID string, messageID uuid.UUID, content string) (message.Message, error)
	Delete(ctx context.Context, userID string, messageID uuid.UUID) error
	React(ctx context.Context, userID string, messageID uuid.UUID, reaction string) (map[string]string, error)
	MarkRead(ctx context.Context, userID string, conversationID uuid.UUID, messageID *uuid.UUID) (int, error)
	MarkDelivered(ctx context.Context, userID string, conversationID uuid.UUID, messageIDs []uuid.UUID) (int, error)
	List(ctx context.Context, userID string, conversationID uuid.UUID, page services.Page) (services.MessagePage, error)
	Search(ctx context.Context, userID string, conversationID uuid.UUID, query string, page services.Page) (services.MessagePage, error)
	Since(ctx context.Context, userID string, conversationID uuid.UUID, since time.Time) ([]message.Message, error)
	Get(ctx context.Context, userID string, messageID uuid.UUID) (message.Message, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type MessageHandler struct {
	service MessageAPI
}

func NewMessageHandler(service MessageAPI) *MessageHandler {
	return &MessageHandler{service: service}
}

// Send is the REST fallback for the sendMessage socket event.
func (h *MessageHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.service.Send(c.Request.Context(), services.SendInputFromRequest(userID, req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(services.SentMessage{
		Message:      res.Message,
		ClientTempID: req.ClientTempID,
	}))
}

func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req httpdto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	msg, err := h.service.Edit(c.Request.Context(), userID, messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(msg))
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), userID, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req httpdto.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	reactions, err := h.service.React(c.Request.Context(), userID, messageID, req.Reaction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ReactionsResponse{
		MessageID: messageID,
		Reactions: reactions,
	}))
}

// MarkRead marks one message, or the whole conversation when the body
// carries no messageId.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req httpdto.MarkReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), userID, conversationID, req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CountResponse{Count: n}))
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req httpdto.MarkDeliveredRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := h.service.MarkDelivered(c.Request.Context(), userID, conversationID, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.CountResponse{Count: n}))
}

func (h *MessageHandler) List(c *gin.Context) {
	h.listPage(c, false)
}

func (h *MessageHandler) Search(c *gin.Context) {
	h.listPage(c, true)
}

func (h *MessageHandler) listPage(c *gin.Context, search bool) {
	conversationID, ok := pathUUID(c, "id")
	if !ok {
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

	page := services.Page{Before: c.Query("before"), Limit: limit}
	var result services.MessagePage
	if search {
		result, err = h.service.Search(c.Request.Context(), userID, conversationID, c.Query("q"), page)
	} else {
		result, err = h.service.List(c.Request.Context(), userID, conversationID, page)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(result))
}

// Since serves the reconnect gap fill: ?since=<RFC3339 timestamp>.
func (h *MessageHandler) Since(c *gin.Context) {
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	since, err := time.Parse(time.RFC3339Nano, c.Query("since"))
	if err != nil {
		badRequest(c, "invalid since")
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	msgs, err := h.service.Since(c.Request.Context(), userID, conversationID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"messages": msgs}))
}

func (h *MessageHandler) GetByID(c *gin.Context) {
	messageID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	msg, err := h.service.Get(c.Request.Context(), userID, messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(msg))
}

func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadCountResponse{Count: n}))
}
