package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTransport is returned when the socket or the HTTP link fails.
var ErrTransport = pulse_errors.ErrTransport

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const writeWait = 10 * time.Second

type ConnOptions struct {
	// URL is the socket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	Dialer *websocket.Dialer

	// MaxAttempts bounds dials per reconnect cycle before the state turns failed.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// RequestTimeout bounds a dial and the wait for an ack.
	RequestTimeout time.Duration

	Logger *zap.Logger
}

func (o *ConnOptions) defaults() {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Conn is one session's socket connection. It reconnects with capped
// exponential backoff after an unexpected drop, rejoins the rooms it had
// joined and then fires the reconnect hooks.
type Conn struct {
	opts ConnOptions
	bus  *Bus
	log  *zap.Logger
	seq  atomic.Uint64

	mu        sync.Mutex
	state     State
	ws        *websocket.Conn
	stop      context.CancelFunc
	rooms     map[uuid.UUID]struct{}
	pending   map[string]chan Frame
	hookSeq   uint64
	onState   map[uint64]func(State)
	onRejoin  map[uint64]func()
	writeLock sync.Mutex
}

func NewConn(opts ConnOptions) *Conn {
	opts.defaults()
	return &Conn{
		opts:     opts,
		bus:      NewBus(),
		log:      opts.Logger.Named("client"),
		state:    StateDisconnected,
		rooms:    make(map[uuid.UUID]struct{}),
		pending:  make(map[string]chan Frame),
		onState:  make(map[uint64]func(State)),
		onRejoin: make(map[uint64]func()),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Bus() *Bus {
	return c.bus
}

func (c *Conn) On(kind EventKind, fn Handler) (unsubscribe func()) {
	return c.bus.On(kind, fn)
}

func (c *Conn) Off(kind EventKind) {
	c.bus.Off(kind)
}

// OnStateChange registers fn for every state transition.
func (c *Conn) OnStateChange(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hookSeq++
	id := c.hookSeq
	c.onState[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onState, id)
		c.mu.Unlock()
	}
}

// OnReconnect registers fn to run after a reconnect has rejoined its rooms.
func (c *Conn) OnReconnect(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hookSeq++
	id := c.hookSeq
	c.onRejoin[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.onRejoin, id)
		c.mu.Unlock()
	}
}

// Connect dials once. Later drops are retried in the background until
// Disconnect is called.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	session, stop := context.WithCancel(context.Background())
	c.stop = stop
	c.mu.Unlock()

	c.setState(StateConnecting)
	ws, err := c.dial(ctx)
	if err != nil {
		stop()
		c.setState(StateDisconnected)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	c.attach(session, ws)
	c.setState(StateConnected)
	return nil
}

// Disconnect closes the socket and stops reconnecting.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	stop, ws := c.stop, c.ws
	c.stop, c.ws = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ws != nil {
		c.writeLock.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeLock.Unlock()
		_ = ws.Close()
	}
	c.setState(StateDisconnected)
}

// Send writes a request frame and waits for its ack. Error frames come
// back as the matching sentinel from pkg/errors.
func (c *Conn) Send(ctx context.Context, kind EventKind, data any) (json.RawMessage, error) {
	id := "r" + strconv.FormatUint(c.seq.Add(1), 10)
	reply := make(chan Frame, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil || c.state != StateConnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: socket not connected", ErrTransport)
	}
	c.pending[id] = reply
	c.mu.Unlock()

	if err := c.write(ws, kind, id, data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	select {
	case f, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%w: connection lost", ErrTransport)
		}
		if f.Event == protocol.Error {
			return nil, frameError(f)
		}
		return f.Data, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}

// Emit writes a frame without waiting for a reply, e.g. typing.
func (c *Conn) Emit(kind EventKind, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("%w: socket not connected", ErrTransport)
	}
	if err := c.write(ws, kind, "", data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Join subscribes to conversation rooms. An empty list joins every
// conversation of the user. Joined rooms are rejoined after a reconnect.
func (c *Conn) Join(ctx context.Context, ids ...uuid.UUID) ([]uuid.UUID, error) {
	data, err := c.Send(ctx, protocol.JoinConversations, protocol.JoinConversationsRequest{ConversationIDs: ids})
	if err != nil {
		return nil, err
	}
	var reply protocol.JoinConversationsAck
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("%w: decode join reply: %v", ErrTransport, err)
		}
	}
	c.mu.Lock()
	for _, id := range reply.ConversationIDs {
		c.rooms[id] = struct{}{}
	}
	c.mu.Unlock()
	c.replayTyping(reply)
	return reply.ConversationIDs, nil
}

// replayTyping turns the typists listed in a join ack into typing events so
// indicators already running before the join show up.
func (c *Conn) replayTyping(ack protocol.JoinConversationsAck) {
	for _, id := range ack.ConversationIDs {
		for _, userID := range ack.Typing[id] {
			raw, err := json.Marshal(protocol.TypingPayload{ConversationID: id, UserID: userID})
			if err != nil {
				continue
			}
			c.bus.Emit(Frame{Event: EventTyping, Data: raw})
		}
	}
}

// Rooms lists the conversations that will be rejoined after a reconnect.
func (c *Conn) Rooms() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backoff.Permanent(fmt.Errorf("%w: socket rejected token", pulse_errors.ErrUnauthorized))
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrTransport, err)
	}
	return ws, nil
}

func (c *Conn) attach(session context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	go c.readLoop(session, ws)
}

func (c *Conn) readLoop(session context.Context, ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.lost(session, ws, err)
			return
		}
		// The server may batch several frames into one message.
		for _, part := range bytes.Split(raw, []byte{'\n'}) {
			part = bytes.TrimSpace(part)
			if len(part) == 0 {
				continue
			}
			f, err := protocol.Decode(part, nil)
			if err != nil {
				c.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			c.dispatch(f)
		}
	}
}

func (c *Conn) dispatch(f Frame) {
	if f.RequestID != "" && (f.Event == protocol.Ack || f.Event == protocol.Error || f.Event == protocol.Pong) {
		c.mu.Lock()
		reply, ok := c.pending[f.RequestID]
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		if ok {
			reply <- f
			return
		}
	}
	c.bus.Emit(f)
}

func (c *Conn) lost(session context.Context, ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan Frame)
	c.mu.Unlock()

	for _, reply := range pending {
		close(reply)
	}
	_ = ws.Close()

	if session.Err() != nil {
		return
	}
	c.log.Warn("socket dropped, reconnecting", zap.Error(cause))
	c.setState(StateReconnecting)
	go c.reconnect(session)
}

func (c *Conn) reconnect(session context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1)), session)

	var ws *websocket.Conn
	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(session, c.opts.RequestTimeout)
		defer cancel()
		var err error
		ws, err = c.dial(ctx)
		return err
	}, policy, func(err error, wait time.Duration) {
		c.log.Debug("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
	if session.Err() != nil {
		if ws != nil {
			_ = ws.Close()
		}
		return
	}
	if err != nil {
		c.log.Error("giving up on reconnect", zap.Error(err))
		c.setState(StateFailed)
		return
	}

	c.attach(session, ws)
	c.setState(StateConnected)
	c.rejoin(session)

	c.mu.Lock()
	hooks := make([]func(), 0, len(c.onRejoin))
	for _, fn := range c.onRejoin {
		hooks = append(hooks, fn)
	}
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Conn) rejoin(ctx context.Context) {
	rooms := c.Rooms()
	if len(rooms) == 0 {
		return
	}
	if _, err := c.Join(ctx, rooms...); err != nil {
		c.log.Warn("rejoin failed", zap.Int("rooms", len(rooms)), zap.Error(err))
	}
}

func (c *Conn) write(ws *websocket.Conn, kind EventKind, requestID string, data any) error {
	raw, err := protocol.Encode(kind, requestID, data)
	if err != nil {
		return err
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hooks := make([]func(State), 0, len(c.onState))
	for _, fn := range c.onState {
		hooks = append(hooks, fn)
	}
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
}

// frameError maps an error frame back to a sentinel.
func frameError(f Frame) error {
	var p protocol.ErrorPayload
	if len(f.Data) > 0 {
		_ = json.Unmarshal(f.Data, &p)
	}
	sentinel := pulse_errors.FromCode(p.Code)
	if sentinel == nil {
		return fmt.Errorf("%w: %s", pulse_errors.ErrUpstream, p.Message)
	}
	return fmt.Errorf("%w: %s", sentinel, p.Message)
}
