package websocket

import (
	"bytes"
	"context"
	"sync"

	"pulse-dm/internal/events"
	"pulse-dm/internal/metrics"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxConnectionsPerUser caps concurrent sockets of one user on one instance.
const MaxConnectionsPerUser = 10

// subscriptionRequest represents a channel subscription/unsubscription request
type subscriptionRequest struct {
	client    *Client
	channel   string
	subscribe bool // true = subscribe, false = unsubscribe
	done      chan struct{}
}

// Hub manages WebSocket client connections and room subscriptions. The Run
// loop owns registration changes; Broadcast may be called from any goroutine.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// users maps user ID to that user's connections
	users map[string]map[*Client]struct{}

	// channels maps room name to set of clients subscribed to it
	channels map[string]map[*Client]struct{}

	// Control channels
	register     chan *Client
	unregister   chan *Client
	subscription chan subscriptionRequest

	logger *Logger
}

func NewHub(logger *Logger) *Hub {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Hub{
		clients:      make(map[string]*Client),
		users:        make(map[string]map[*Client]struct{}),
		channels:     make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 256),
		unregister:   make(chan *Client, 256),
		subscription: make(chan subscriptionRequest, 512),
		logger:       logger,
	}
}

// Run starts the hub's event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case req := <-h.subscription:
			if req.subscribe {
				h.subscribeToChannel(req.client, req.channel)
			} else {
				h.unsubscribeFromChannel(req.client, req.channel)
			}
			close(req.done)
		}
	}
}

// Register adds a new client to the hub and joins its user room.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe joins client to channel and returns once the hub applied it, so
// an ack sent afterwards never races the first broadcast.
func (h *Hub) Subscribe(ctx context.Context, client *Client, channel string) error {
	return h.changeSubscription(ctx, subscriptionRequest{client: client, channel: channel, subscribe: true})
}

func (h *Hub) Unsubscribe(ctx context.Context, client *Client, channel string) error {
	return h.changeSubscription(ctx, subscriptionRequest{client: client, channel: channel, subscribe: false})
}

func (h *Hub) changeSubscription(ctx context.Context, req subscriptionRequest) error {
	req.done = make(chan struct{})
	select {
	case h.subscription <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast sends payload to every client in channel. Delivery to one room is
// synchronous, so payloads reach each client in call order. Full client
// buffers drop the payload.
func (h *Hub) Broadcast(channel string, payload []byte) {
	if userID, ok := events.ParseUserChannel(channel); ok {
		h.joinAnnouncedConversation(userID, payload)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		if !c.enqueue(payload) {
			metrics.EventsDroppedTotal.Inc()
			h.logger.Warn("send buffer full, payload dropped", c.UserID, c.ID, zap.String("channel", channel))
		}
	}
}

var newConversationMarker = []byte(`"event":"` + string(protocol.NewConversation) + `"`)

// joinAnnouncedConversation puts every local connection of userID into the
// room of a conversation announced to them, so the first message of a new
// conversation reaches them without a client round trip.
func (h *Hub) joinAnnouncedConversation(userID string, payload []byte) {
	if !bytes.Contains(payload, newConversationMarker) {
		return
	}
	var conv struct {
		ID uuid.UUID `json:"id"`
	}
	frame, err := protocol.Decode(payload, &conv)
	if err != nil || frame.Event != protocol.NewConversation || conv.ID == uuid.Nil {
		return
	}

	channel := events.ConversationChannel(conv.ID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.join(c, channel)
	}
}

// UserConnectionCount returns how many sockets userID has on this instance.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.isClosed() {
		return
	}
	h.clients[client.ID] = client
	if _, ok := h.users[client.UserID]; !ok {
		h.users[client.UserID] = make(map[*Client]struct{})
	}
	h.users[client.UserID][client] = struct{}{}
	h.join(client, events.UserChannel(client.UserID))
	metrics.WSConnections.Inc()
}

// removeClient removes a client and all its subscriptions, then closes its
// send buffer so the write pump exits.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.isClosed() {
		return
	}
	for _, channel := range client.Channels() {
		h.leave(client, channel)
	}
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		metrics.WSConnections.Dec()
	}
	if conns, ok := h.users[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.users, client.UserID)
		}
	}
	client.closeSend()
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.isClosed() {
		return
	}
	h.join(client, channel)
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(client, channel)
}

// join and leave require h.mu held for writing.
func (h *Hub) join(client *Client, channel string) {
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.subscribe(channel)
}

func (h *Hub) leave(client *Client, channel string) {
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.unsubscribe(channel)
}
