package websocket

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/events"
	"pulse-dm/internal/services"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenAuth map[string]string

func (a tokenAuth) Authenticate(_ context.Context, token string) (user.Profile, error) {
	id, ok := a[strings.TrimPrefix(token, "Bearer ")]
	if !ok {
		return user.Profile{}, pulse_errors.ErrUnauthorized
	}
	return user.Profile{ID: id, Username: id}, nil
}

type stubMessages struct {
	mu    sync.Mutex
	sends []services.SendInput
	err   error
}

func (s *stubMessages) Send(_ context.Context, in services.SendInput) (services.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return services.SendResult{}, s.err
	}
	s.sends = append(s.sends, in)
	m := message.Message{ID: uuid.New(), SenderID: in.SenderID, Content: in.Content, Type: message.TypeText}
	return services.SendResult{Message: m}, nil
}

func (s *stubMessages) Edit(context.Context, string, uuid.UUID, string) (message.Message, error) {
	return message.Message{}, pulse_errors.ErrNotFound
}

func (s *stubMessages) MarkRead(context.Context, string, uuid.UUID, *uuid.UUID) (int, error) {
	return 3, nil
}

func (s *stubMessages) MarkDelivered(context.Context, string, uuid.UUID, []uuid.UUID) (int, error) {
	return 0, nil
}

type stubPresence struct {
	mu        sync.Mutex
	connected map[string]int
	typing    []uuid.UUID
	typists   map[uuid.UUID][]string
}

func (p *stubPresence) Connected(_ context.Context, userID, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[userID]++
}

func (p *stubPresence) Disconnected(_ context.Context, userID, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[userID]--
}

func (p *stubPresence) Heartbeat(context.Context, string) {}

func (p *stubPresence) Typing(_ context.Context, _ string, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, id)
	return nil
}

func (p *stubPresence) StopTyping(context.Context, string, uuid.UUID) error        { return nil }
func (p *stubPresence) OpenConversation(context.Context, string, uuid.UUID) error  { return nil }
func (p *stubPresence) CloseConversation(context.Context, string, uuid.UUID) error { return nil }

func (p *stubPresence) TypingIn(_ context.Context, userID string, ids []uuid.UUID) map[uuid.UUID][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[uuid.UUID][]string{}
	for _, id := range ids {
		for _, u := range p.typists[id] {
			if u != userID {
				out[id] = append(out[id], u)
			}
		}
	}
	return out
}

func (p *stubPresence) count(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[userID]
}

type wsEnv struct {
	hub      *Hub
	convs    *fakeConversations
	messages *stubMessages
	presence *stubPresence
	server   *httptest.Server
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &wsEnv{
		hub:      startHub(t),
		convs:    newFakeConversations(),
		messages: &stubMessages{},
		presence: &stubPresence{connected: map[string]int{}},
	}
	commands := &Commands{
		Messages:   env.messages,
		Presence:   env.presence,
		Authorizer: NewChannelAuthorizer(env.convs),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	auth := tokenAuth{"token-a": "user_a", "token-b": "user_b"}
	h := NewHandler(ctx, auth, env.hub, commands, nil, NewLogger(nil))

	r := gin.New()
	r.GET("/ws", h.Handle)
	env.server = httptest.NewServer(r)
	t.Cleanup(env.server.Close)
	return env
}

type testConn struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func (e *wsEnv) dial(t *testing.T, token string) *testConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(kind protocol.Kind, requestID string, data any) {
	c.t.Helper()
	raw, err := protocol.Encode(kind, requestID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, raw))
}

// next returns the next frame, splitting batched writes on newlines.
func (c *testConn) next(v any) protocol.Frame {
	c.t.Helper()
	for len(c.pending) == 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		for _, part := range bytes.Split(raw, []byte{'\n'}) {
			if len(part) > 0 {
				c.pending = append(c.pending, part)
			}
		}
	}
	raw := c.pending[0]
	c.pending = c.pending[1:]
	f, err := protocol.Decode(raw, v)
	require.NoError(c.t, err)
	return f
}

func TestHandlerRejectsMissingOrBadToken(t *testing.T) {
	env := newWSEnv(t)

	resp, err := http.Get(env.server.URL + "/ws")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=nope"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerAcceptsBearerHeader(t *testing.T) {
	env := newWSEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer token-b"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.UserConnectionCount("user_b") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.presence.count("user_b"))
}

func TestSocketJoinAndReceiveRoomEvents(t *testing.T) {
	env := newWSEnv(t)
	convID := env.convs.add("user_a", "user_b")
	other := env.convs.add("user_b", "user_c")

	c := env.dial(t, "token-a")
	c.send(protocol.JoinConversations, "join-1", protocol.JoinConversationsRequest{ConversationIDs: []uuid.UUID{convID, other}})

	var ack protocol.JoinConversationsAck
	f := c.next(&ack)
	assert.Equal(t, protocol.Ack, f.Event)
	assert.Equal(t, "join-1", f.RequestID)
	assert.Equal(t, []uuid.UUID{convID}, ack.ConversationIDs)
	assert.Empty(t, ack.Typing)

	payload, err := protocol.Encode(protocol.Typing, "", protocol.TypingPayload{ConversationID: convID, UserID: "user_b"})
	require.NoError(t, err)
	env.hub.Broadcast(events.ConversationChannel(other), []byte(`{"event":"typing"}`))
	env.hub.Broadcast(events.ConversationChannel(convID), payload)

	var typing protocol.TypingPayload
	f = c.next(&typing)
	assert.Equal(t, protocol.Typing, f.Event)
	assert.Equal(t, "user_b", typing.UserID)
}

func TestSocketJoinAckListsTypists(t *testing.T) {
	env := newWSEnv(t)
	convID := env.convs.add("user_a", "user_b")
	other := env.convs.add("user_b", "user_c")
	env.presence.typists = map[uuid.UUID][]string{
		convID: {"user_a", "user_b"},
		other:  {"user_c"},
	}

	c := env.dial(t, "token-a")
	c.send(protocol.JoinConversations, "join-2", protocol.JoinConversationsRequest{ConversationIDs: []uuid.UUID{convID, other}})

	var ack protocol.JoinConversationsAck
	f := c.next(&ack)
	assert.Equal(t, protocol.Ack, f.Event)
	assert.Equal(t, []uuid.UUID{convID}, ack.ConversationIDs)
	assert.Equal(t, map[uuid.UUID][]string{convID: {"user_b"}}, ack.Typing)
}

func TestSocketSendMessageAck(t *testing.T) {
	env := newWSEnv(t)
	convID := env.convs.add("user_a", "user_b")
	c := env.dial(t, "token-a")

	c.send(protocol.SendMessage, "req-7", protocol.SendMessageRequest{
		ConversationID: &convID,
		Content:        "hello",
		ClientTempID:   "temp-1",
	})

	var sent services.SentMessage
	f := c.next(&sent)
	require.Equal(t, protocol.Ack, f.Event)
	assert.Equal(t, "req-7", f.RequestID)
	assert.Equal(t, "temp-1", sent.ClientTempID)
	assert.Equal(t, "hello", sent.Content)

	env.messages.mu.Lock()
	require.Len(t, env.messages.sends, 1)
	assert.Equal(t, "user_a", env.messages.sends[0].SenderID)
	env.messages.mu.Unlock()
}

func TestSocketErrorsCarryCodes(t *testing.T) {
	env := newWSEnv(t)
	c := env.dial(t, "token-a")

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var e protocol.ErrorPayload
	f := c.next(&e)
	assert.Equal(t, protocol.Error, f.Event)
	assert.Equal(t, "INVALID_REQUEST", e.Code)

	c.send(protocol.NewMessage, "r1", nil)
	f = c.next(&e)
	assert.Equal(t, "r1", f.RequestID)
	assert.Equal(t, "INVALID_REQUEST", e.Code)

	c.send(protocol.EditMessage, "r2", protocol.EditMessageRequest{MessageID: uuid.New(), Content: "x"})
	f = c.next(&e)
	assert.Equal(t, "r2", f.RequestID)
	assert.Equal(t, "NOT_FOUND", e.Code)
	assert.Equal(t, "not found", e.Message)

	c.send(protocol.Typing, "r3", protocol.ConversationRef{})
	f = c.next(&e)
	assert.Equal(t, "r3", f.RequestID)
	assert.Equal(t, "INVALID_REQUEST", e.Code)
}

func TestSocketPingAndCommands(t *testing.T) {
	env := newWSEnv(t)
	convID := env.convs.add("user_a", "user_b")
	c := env.dial(t, "token-a")

	c.send(protocol.Ping, "p1", nil)
	f := c.next(nil)
	assert.Equal(t, protocol.Pong, f.Event)
	assert.Equal(t, "p1", f.RequestID)

	c.send(protocol.MarkRead, "m1", protocol.MarkReadRequest{ConversationID: convID})
	var count countReply
	f = c.next(&count)
	assert.Equal(t, protocol.Ack, f.Event)
	assert.Equal(t, 3, count.Count)

	c.send(protocol.Typing, "", protocol.ConversationRef{ConversationID: convID})
	require.Eventually(t, func() bool {
		env.presence.mu.Lock()
		defer env.presence.mu.Unlock()
		return len(env.presence.typing) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSocketDisconnectReportsPresence(t *testing.T) {
	env := newWSEnv(t)
	c := env.dial(t, "token-a")
	require.Eventually(t, func() bool { return env.presence.count("user_a") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool {
		return env.presence.count("user_a") == 0 && env.hub.UserConnectionCount("user_a") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example.com"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, checkOrigin(nil)(req))
}
