package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/services"
	pulse_errors "pulse-dm/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConversations struct {
	resolveErr error
	created    bool
	conv       conversation.Conversation
	listPage   int
	listLimit  int
}

func (s *stubConversations) Resolve(_ context.Context, requesterID, targetID string) (conversation.Conversation, bool, error) {
	if s.resolveErr != nil {
		return conversation.Conversation{}, false, s.resolveErr
	}
	s.conv = conversation.Conversation{ID: uuid.New(), Participants: [2]string{requesterID, targetID}}
	return s.conv, s.created, nil
}

func (s *stubConversations) Get(_ context.Context, userID string, id uuid.UUID) (conversation.Summary, error) {
	if id != s.conv.ID || !s.conv.HasParticipant(userID) {
		return conversation.Summary{}, fmt.Errorf("%w: conversation", pulse_errors.ErrNotFound)
	}
	return conversation.Summary{Conversation: s.conv}, nil
}

func (s *stubConversations) ListForUser(_ context.Context, _ string, page, limit int) ([]conversation.Summary, error) {
	s.listPage, s.listLimit = page, limit
	return []conversation.Summary{}, nil
}

type stubMessages struct {
	lastSend    services.SendInput
	lastPage    services.Page
	lastQuery   string
	lastSince   time.Time
	lastReadID  *uuid.UUID
	err         error
	unreadCount int64
}

func (s *stubMessages) Send(_ context.Context, in services.SendInput) (services.SendResult, error) {
	s.lastSend = in
	if s.err != nil {
		return services.SendResult{}, s.err
	}
	return services.SendResult{Message: message.Message{ID: uuid.New(), SenderID: in.SenderID, Content: in.Content, Type: in.MessageType}}, nil
}

func (s *stubMessages) Edit(_ context.Context, userID string, id uuid.UUID, content string) (message.Message, error) {
	if s.err != nil {
		return message.Message{}, s.err
	}
	now := time.Now()
	return message.Message{ID: id, SenderID: userID, Content: content, EditedAt: &now}, nil
}

func (s *stubMessages) Delete(context.Context, string, uuid.UUID) error { return s.err }

func (s *stubMessages) React(_ context.Context, userID string, _ uuid.UUID, reaction string) (map[string]string, error) {
	return map[string]string{userID: reaction}, s.err
}

func (s *stubMessages) MarkRead(_ context.Context, _ string, _ uuid.UUID, id *uuid.UUID) (int, error) {
	s.lastReadID = id
	if id == nil {
		return 4, s.err
	}
	return 1, s.err
}

func (s *stubMessages) MarkDelivered(_ context.Context, _ string, _ uuid.UUID, ids []uuid.UUID) (int, error) {
	return len(ids), s.err
}

func (s *stubMessages) List(_ context.Context, _ string, _ uuid.UUID, page services.Page) (services.MessagePage, error) {
	s.lastPage = page
	return services.MessagePage{Messages: []message.Message{}, NextCursor: "next"}, s.err
}

func (s *stubMessages) Search(_ context.Context, _ string, _ uuid.UUID, q string, page services.Page) (services.MessagePage, error) {
	s.lastQuery, s.lastPage = q, page
	if q == "" {
		return services.MessagePage{}, fmt.Errorf("%w: search query is required", pulse_errors.ErrValidation)
	}
	return services.MessagePage{Messages: []message.Message{}}, s.err
}

func (s *stubMessages) Since(_ context.Context, _ string, _ uuid.UUID, since time.Time) ([]message.Message, error) {
	s.lastSince = since
	return []message.Message{}, s.err
}

func (s *stubMessages) Get(_ context.Context, _ string, id uuid.UUID) (message.Message, error) {
	return message.Message{ID: id}, s.err
}

func (s *stubMessages) UnreadCount(context.Context, string) (int64, error) {
	return s.unreadCount, s.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newRouter(convs ConversationAPI, msgs MessageAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Request = c.Request.WithContext(services.WithIdentity(c.Request.Context(), user.Profile{ID: id}))
		}
		c.Next()
	})
	ch := NewConversationHandler(convs)
	mh := NewMessageHandler(msgs)
	r.GET("/conversations", ch.List)
	r.POST("/conversations", ch.Resolve)
	r.GET("/conversations/:id", ch.GetByID)
	r.GET("/conversations/:id/messages", mh.List)
	r.GET("/conversations/:id/messages/search", mh.Search)
	r.GET("/conversations/:id/messages/since", mh.Since)
	r.POST("/conversations/:id/read", mh.MarkRead)
	r.POST("/conversations/:id/delivered", mh.MarkDelivered)
	r.POST("/messages", mh.Send)
	r.GET("/messages/unread-count", mh.UnreadCount)
	r.GET("/messages/:id", mh.GetByID)
	r.PATCH("/messages/:id", mh.Edit)
	r.DELETE("/messages/:id", mh.Delete)
	r.PUT("/messages/:id/reaction", mh.React)
	return r
}

func do(t *testing.T, r http.Handler, method, path, userID string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{pulse_errors.ErrValidation, http.StatusBadRequest},
		{pulse_errors.ErrUnauthorized, http.StatusUnauthorized},
		{pulse_errors.ErrForbidden, http.StatusForbidden},
		{pulse_errors.ErrNotFound, http.StatusNotFound},
		{pulse_errors.ErrConflict, http.StatusConflict},
		{pulse_errors.ErrRateExceeded, http.StatusTooManyRequests},
		{pulse_errors.ErrUpstream, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", pulse_errors.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("db: %w", context.Canceled), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestResolveConversation(t *testing.T) {
	convs := &stubConversations{created: true}
	r := newRouter(convs, &stubMessages{})

	w, env := do(t, r, http.MethodPost, "/conversations", "user_a", map[string]string{"userId": "user_b"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"created":true`)

	convs.created = false
	w, _ = do(t, r, http.MethodPost, "/conversations", "user_a", map[string]string{"userId": "user_b"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodPost, "/conversations", "user_a", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)

	convs.resolveErr = fmt.Errorf("%w: not eligible to message this user", pulse_errors.ErrForbidden)
	w, env = do(t, r, http.MethodPost, "/conversations", "user_a", map[string]string{"userId": "user_c"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)
	assert.Contains(t, env.Error, "not eligible")
}

func TestRequiresIdentity(t *testing.T) {
	r := newRouter(&stubConversations{}, &stubMessages{})
	w, env := do(t, r, http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestListAndGetConversation(t *testing.T) {
	convs := &stubConversations{}
	r := newRouter(convs, &stubMessages{})

	w, env := do(t, r, http.MethodGet, "/conversations?page=2&limit=500", "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, convs.listPage)
	assert.Equal(t, 500, convs.listLimit)
	assert.Contains(t, string(env.Data), `"limit":100`)

	w, _ = do(t, r, http.MethodGet, "/conversations?page=x", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(t, r, http.MethodPost, "/conversations", "user_a", map[string]string{"userId": "user_b"})
	w, _ = do(t, r, http.MethodGet, "/conversations/"+convs.conv.ID.String(), "user_a", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/conversations/"+convs.conv.ID.String(), "user_c", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.Equal(t, "not found", env.Error)

	w, _ = do(t, r, http.MethodGet, "/conversations/not-a-uuid", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage(t *testing.T) {
	msgs := &stubMessages{}
	r := newRouter(&stubConversations{}, msgs)

	w, env := do(t, r, http.MethodPost, "/messages", "user_a", map[string]any{
		"recipientId":  "user_b",
		"content":      "hello",
		"messageType":  "text",
		"clientTempId": "temp-42",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user_a", msgs.lastSend.SenderID)
	assert.Equal(t, "user_b", msgs.lastSend.RecipientID)
	assert.Equal(t, message.TypeText, msgs.lastSend.MessageType)

	var sent services.SentMessage
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, "temp-42", sent.ClientTempID)
	assert.Equal(t, "hello", sent.Content)

	msgs.err = fmt.Errorf("%w: 60 messages per minute", pulse_errors.ErrRateExceeded)
	w, env = do(t, r, http.MethodPost, "/messages", "user_a", map[string]any{"recipientId": "user_b", "content": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	msgs.err = fmt.Errorf("%w: head object", pulse_errors.ErrUpstream)
	w, env = do(t, r, http.MethodPost, "/messages", "user_a", map[string]any{"recipientId": "user_b", "content": "x"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "UPSTREAM_FAILED", env.Code)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	msgs := &stubMessages{err: fmt.Errorf("pq: connection refused")}
	r := newRouter(&stubConversations{}, msgs)

	w, env := do(t, r, http.MethodGet, "/messages/unread-count", "user_a", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", env.Code)
	assert.Equal(t, "internal error", env.Error)
}

func TestEditDeleteReact(t *testing.T) {
	msgs := &stubMessages{}
	r := newRouter(&stubConversations{}, msgs)
	id := uuid.New()

	w, env := do(t, r, http.MethodPatch, "/messages/"+id.String(), "user_a", map[string]string{"content": "fixed"})
	require.Equal(t, http.StatusOK, w.Code)
	var edited message.Message
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	assert.Equal(t, "fixed", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	w, _ = do(t, r, http.MethodDelete, "/messages/"+id.String(), "user_a", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodPut, "/messages/"+id.String()+"/reaction", "user_b", map[string]string{"reaction": "🔥"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"user_b":"🔥"`)

	msgs.err = fmt.Errorf("%w: only the sender can edit", pulse_errors.ErrForbidden)
	w, env = do(t, r, http.MethodPatch, "/messages/"+id.String(), "user_b", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)
}

func TestMarkReadAndDelivered(t *testing.T) {
	msgs := &stubMessages{}
	r := newRouter(&stubConversations{}, msgs)
	convID := uuid.New()
	msgID := uuid.New()

	w, env := do(t, r, http.MethodPost, "/conversations/"+convID.String()+"/read", "user_b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, msgs.lastReadID)
	assert.JSONEq(t, `{"count":4}`, string(env.Data))

	w, env = do(t, r, http.MethodPost, "/conversations/"+convID.String()+"/read", "user_b", map[string]any{"messageId": msgID})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, msgs.lastReadID)
	assert.Equal(t, msgID, *msgs.lastReadID)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	w, env = do(t, r, http.MethodPost, "/conversations/"+convID.String()+"/delivered", "user_b", map[string]any{"messageIds": []uuid.UUID{msgID, uuid.New()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, string(env.Data))
}

func TestListSearchSince(t *testing.T) {
	msgs := &stubMessages{}
	r := newRouter(&stubConversations{}, msgs)
	base := "/conversations/" + uuid.NewString()

	w, env := do(t, r, http.MethodGet, base+"/messages?before=abc&limit=5", "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.Page{Before: "abc", Limit: 5}, msgs.lastPage)
	assert.Contains(t, string(env.Data), `"nextCursor":"next"`)

	w, _ = do(t, r, http.MethodGet, base+"/messages/search?q=hello", "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", msgs.lastQuery)

	w, env = do(t, r, http.MethodGet, base+"/messages/search", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w, _ = do(t, r, http.MethodGet, base+"/messages/since?since="+since.Format(time.RFC3339), "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, since.Equal(msgs.lastSince))

	w, _ = do(t, r, http.MethodGet, base+"/messages/since?since=yesterday", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnreadCountAndGet(t *testing.T) {
	msgs := &stubMessages{unreadCount: 7}
	r := newRouter(&stubConversations{}, msgs)

	w, env := do(t, r, http.MethodGet, "/messages/unread-count", "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":7}`, string(env.Data))

	id := uuid.New()
	w, env = do(t, r, http.MethodGet, "/messages/"+id.String(), "user_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), id.String())
}
