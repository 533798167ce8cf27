package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
	commandTimeout = 10 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client represents a single WebSocket connection
type Client struct {
	ID     string
	UserID string

	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	commands     *Commands
	rateLimiter  *ClientRateLimiter
	logger       *Logger
	connectedAt  time.Time
	lastActivity atomic.Int64

	mu       sync.RWMutex
	channels map[string]bool
	closed   bool
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, commands *Commands, logger *Logger) *Client {
	now := time.Now()
	c := &Client{
		ID:          uuid.New().String(),
		UserID:      userID,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		commands:    commands,
		rateLimiter: NewClientRateLimiter(DefaultRateLimits),
		logger:      logger,
		connectedAt: now,
		channels:    make(map[string]bool),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) subscribe(channel string) {
	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// Channels returns a copy of all subscribed rooms.
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

// enqueue hands msg to the write pump without blocking. It reports false
// when the buffer is full or the client is gone.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// ReadPump reads frames until the connection fails or ctx is done. It blocks.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		if c.commands != nil && c.commands.Presence != nil {
			hbCtx, cancel := context.WithTimeout(ctx, writeWait)
			c.commands.Presence.Heartbeat(hbCtx, c.UserID)
			cancel()
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("unexpected_close", c.UserID, c.ID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.touch()
		if len(message) == 0 {
			continue
		}
		c.handleMessage(ctx, message)
	}
}

// WritePump drains the send buffer to the socket, batching queued frames
// into one write separated by newlines, and pings every pingPeriod.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write(newline)
				_, _ = w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			idle := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idle > pongWait*2 {
				c.logger.Info("idle_timeout", c.UserID, c.ID, zap.Duration("idle", idle))
				return
			}
		}
	}
}
