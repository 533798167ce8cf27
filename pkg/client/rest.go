package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// REST is the HTTP fallback for the socket and the source for history.
type REST struct {
	http *resty.Client
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// NewREST builds a client for baseURL (e.g. http://localhost:8080) that
// authenticates every request with token.
func NewREST(baseURL, token string) *REST {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/v1").
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetTimeout(15 * time.Second)
	return &REST{http: c}
}

func call[T any](ctx context.Context, r *REST, method, path string, body any, query map[string]string) (T, error) {
	var (
		out     envelope[T]
		failure envelope[json.RawMessage]
		zero    T
	)
	req := r.http.R().SetContext(ctx).SetResult(&out).SetError(&failure)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return zero, restError(resp.StatusCode(), failure.Code, failure.Error)
	}
	return out.Data, nil
}

func restError(status int, code, message string) error {
	if sentinel := pulse_errors.FromCode(code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, message)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return fmt.Errorf("%w: status %d: %s", pulse_errors.ErrUpstream, status, message)
}

func (r *REST) SendMessage(ctx context.Context, req protocol.SendMessageRequest) (Message, error) {
	return call[Message](ctx, r, http.MethodPost, "/messages", req, nil)
}

func (r *REST) GetMessage(ctx context.Context, id uuid.UUID) (Message, error) {
	return call[Message](ctx, r, http.MethodGet, "/messages/"+id.String(), nil, nil)
}

func (r *REST) EditMessage(ctx context.Context, id uuid.UUID, content string) (Message, error) {
	body := map[string]string{"content": content}
	return call[Message](ctx, r, http.MethodPatch, "/messages/"+id.String(), body, nil)
}

func (r *REST) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := call[json.RawMessage](ctx, r, http.MethodDelete, "/messages/"+id.String(), nil, nil)
	return err
}

// React sets the caller's reaction; an empty reaction clears it.
func (r *REST) React(ctx context.Context, id uuid.UUID, reaction string) (map[string]string, error) {
	type reply struct {
		Reactions map[string]string `json:"reactions"`
	}
	out, err := call[reply](ctx, r, http.MethodPut, "/messages/"+id.String()+"/reaction", map[string]string{"reaction": reaction}, nil)
	return out.Reactions, err
}

// MarkRead marks messageID read, or the whole conversation when messageID is nil.
func (r *REST) MarkRead(ctx context.Context, conversationID uuid.UUID, messageID *uuid.UUID) (int, error) {
	body := map[string]*uuid.UUID{}
	if messageID != nil {
		body["messageId"] = messageID
	}
	out, err := call[countReply](ctx, r, http.MethodPost, "/conversations/"+conversationID.String()+"/read", body, nil)
	return out.Count, err
}

func (r *REST) MarkDelivered(ctx context.Context, conversationID uuid.UUID, messageIDs []uuid.UUID) (int, error) {
	body := map[string][]uuid.UUID{"messageIds": messageIDs}
	out, err := call[countReply](ctx, r, http.MethodPost, "/conversations/"+conversationID.String()+"/delivered", body, nil)
	return out.Count, err
}

type countReply struct {
	Count int `json:"count"`
}

// ListMessages returns one page, newest first. before is the cursor from
// the previous page.
func (r *REST) ListMessages(ctx context.Context, conversationID uuid.UUID, before string, limit int) (MessagePage, error) {
	return call[MessagePage](ctx, r, http.MethodGet, "/conversations/"+conversationID.String()+"/messages", nil, pageQuery(before, limit, ""))
}

func (r *REST) SearchMessages(ctx context.Context, conversationID uuid.UUID, q, before string, limit int) (MessagePage, error) {
	return call[MessagePage](ctx, r, http.MethodGet, "/conversations/"+conversationID.String()+"/messages/search", nil, pageQuery(before, limit, q))
}

// Since returns messages created or changed after since, deleted ones included.
func (r *REST) Since(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]Message, error) {
	out, err := call[MessagePage](ctx, r, http.MethodGet, "/conversations/"+conversationID.String()+"/messages/since", nil,
		map[string]string{"since": since.UTC().Format(time.RFC3339Nano)})
	return out.Messages, err
}

func (r *REST) UnreadCount(ctx context.Context) (int64, error) {
	type reply struct {
		Count int64 `json:"count"`
	}
	out, err := call[reply](ctx, r, http.MethodGet, "/messages/unread-count", nil, nil)
	return out.Count, err
}

// ResolveConversation opens, or finds, the direct conversation with userID.
func (r *REST) ResolveConversation(ctx context.Context, userID string) (Conversation, bool, error) {
	type reply struct {
		Conversation Conversation `json:"conversation"`
		Created      bool         `json:"created"`
	}
	out, err := call[reply](ctx, r, http.MethodPost, "/conversations", map[string]string{"userId": userID}, nil)
	return out.Conversation, out.Created, err
}

func (r *REST) ListConversations(ctx context.Context, page, limit int) ([]ConversationSummary, error) {
	type reply struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	out, err := call[reply](ctx, r, http.MethodGet, "/conversations", nil, query)
	return out.Conversations, err
}

func pageQuery(before string, limit int, q string) map[string]string {
	query := map[string]string{}
	if before != "" {
		query["before"] = before
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if q != "" {
		query["q"] = q
	}
	return query
}
