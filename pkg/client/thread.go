package client

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
)

// Thread is the local view of one conversation. Sends show up immediately
// as temp- placeholders and are settled by the ack, the REST reply or the
// newMessage broadcast, whichever lands first.
type Thread struct {
	conversationID uuid.UUID
	selfID         string
	conn           *Conn
	rest           *REST
	now            func() time.Time

	mu       sync.Mutex
	messages []Message
}

// NewThread builds a thread for conversationID. Either conn or rest may be nil.
func NewThread(conversationID uuid.UUID, selfID string, conn *Conn, rest *REST) *Thread {
	return &Thread{
		conversationID: conversationID,
		selfID:         selfID,
		conn:           conn,
		rest:           rest,
		now:            time.Now,
	}
}

func (t *Thread) ConversationID() uuid.UUID {
	return t.conversationID
}

// Messages returns a copy of the current view, oldest first.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Load merges the newest page of history into the view.
func (t *Thread) Load(ctx context.Context, limit int) error {
	if t.rest == nil {
		return fmt.Errorf("%w: no REST client", ErrTransport)
	}
	page, err := t.rest.ListMessages(ctx, t.conversationID, "", limit)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.messages = MergeMessages(t.messages, page.Messages)
	t.mu.Unlock()
	return nil
}

// SendOptimistic shows a placeholder at once and sends content over the
// socket when it is connected, over REST otherwise. On success the
// placeholder is replaced in place by the stored message; on failure it
// is removed and the error returned. Nothing is retried.
func (t *Thread) SendOptimistic(ctx context.Context, content string) (Message, error) {
	now := t.now().UTC()
	placeholder := Message{
		ID:             TempIDPrefix + uuid.NewString(),
		ConversationID: t.conversationID,
		SenderID:       t.selfID,
		Content:        content,
		Type:           "text",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	placeholder.ClientTempID = placeholder.ID

	t.mu.Lock()
	t.messages = append(t.messages, placeholder)
	t.mu.Unlock()

	conversationID := t.conversationID
	sent, err := t.deliver(ctx, protocol.SendMessageRequest{
		ConversationID: &conversationID,
		Content:        content,
		MessageType:    "text",
		ClientTempID:   placeholder.ID,
	})
	if err != nil {
		t.mu.Lock()
		t.removeLocked(placeholder.ID)
		t.mu.Unlock()
		return Message{}, err
	}

	t.mu.Lock()
	t.settleLocked(placeholder.ID, sent)
	t.mu.Unlock()
	return sent, nil
}

func (t *Thread) deliver(ctx context.Context, req protocol.SendMessageRequest) (Message, error) {
	if t.conn != nil && t.conn.State() == StateConnected {
		data, err := t.conn.Send(ctx, protocol.SendMessage, req)
		if err != nil {
			return Message{}, err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return Message{}, fmt.Errorf("%w: decode ack: %v", ErrTransport, err)
		}
		return m, nil
	}
	if t.rest == nil {
		return Message{}, fmt.Errorf("%w: no connection", ErrTransport)
	}
	return t.rest.SendMessage(ctx, req)
}

// settleLocked swaps the placeholder for the stored message. When the
// broadcast already put the stored copy in the view, the placeholder is
// dropped and the copies merged by id.
func (t *Thread) settleLocked(tempID string, m Message) {
	i := t.indexLocked(tempID)
	switch {
	case i >= 0 && t.indexLocked(m.ID) < 0:
		t.messages[i] = m
	case i >= 0:
		t.messages = slices.Delete(t.messages, i, i+1)
		t.messages = MergeMessages(t.messages, []Message{m})
	default:
		t.messages = MergeMessages(t.messages, []Message{m})
	}
}

// Apply folds one server event into the view. Events for other
// conversations are ignored.
func (t *Thread) Apply(f Frame) error {
	switch f.Event {
	case protocol.NewMessage:
		var m Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return err
		}
		if m.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		if i := t.placeholderLocked(m); i >= 0 {
			t.settleLocked(t.messages[i].ID, m)
		} else {
			t.messages = MergeMessages(t.messages, []Message{m})
		}
		t.mu.Unlock()

	case protocol.MessageEdited:
		var m Message
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return err
		}
		if m.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		if i := t.indexLocked(m.ID); i >= 0 {
			t.messages[i] = newerEdit(t.messages[i], m)
		}
		t.mu.Unlock()

	case protocol.MessageDeleted:
		var p protocol.MessageDeletedPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if p.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		t.removeLocked(p.MessageID.String())
		t.mu.Unlock()

	case protocol.MessageRead:
		var p protocol.MessageReadPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if p.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		t.markLocked([]uuid.UUID{p.MessageID}, p.UserID, true)
		t.mu.Unlock()

	case protocol.ConversationRead:
		var p protocol.ConversationReadPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if p.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		t.markLocked(p.MessageIDs, p.UserID, true)
		t.mu.Unlock()

	case protocol.MessageDelivered:
		var p protocol.MessageDeliveredPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if p.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		t.markLocked(p.MessageIDs, p.UserID, false)
		t.mu.Unlock()

	case protocol.ReactionUpdated:
		var p protocol.ReactionUpdatedPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if p.ConversationID != t.conversationID {
			return nil
		}
		t.mu.Lock()
		if i := t.indexLocked(p.MessageID.String()); i >= 0 {
			t.messages[i].Reactions = p.Reactions
		}
		t.mu.Unlock()
	}
	return nil
}

// Bind feeds conn's events into the thread and resyncs after every
// reconnect. The returned func undoes both.
func (t *Thread) Bind(ctx context.Context, conn *Conn) (unbind func()) {
	kinds := []EventKind{
		EventNewMessage, EventMessageEdited, EventMessageDeleted, EventMessageRead,
		EventConversationRead, EventMessageDelivered, EventReactionUpdated,
	}
	offs := make([]func(), 0, len(kinds)+1)
	for _, k := range kinds {
		offs = append(offs, conn.On(k, func(f Frame) { _ = t.Apply(f) }))
	}
	offs = append(offs, conn.OnReconnect(func() {
		go func() { _, _ = t.Resync(ctx) }()
	}))
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Seen reports whether anyone other than the sender has read the message.
func (t *Thread) Seen(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(messageID)
	if i < 0 {
		return false
	}
	m := t.messages[i]
	return slices.ContainsFunc(m.ReadBy, func(u string) bool { return u != m.SenderID })
}

// MaxSinceRows is the most rows the server returns for one since query. A
// full batch means more may follow.
const MaxSinceRows = 500

// Resync fetches what changed since the newest stored message in the view
// and merges it in, following full batches until the gap is closed. Deleted
// messages are removed. It returns the number of messages fetched.
func (t *Thread) Resync(ctx context.Context) (int, error) {
	if t.rest == nil {
		return 0, fmt.Errorf("%w: no REST client", ErrTransport)
	}

	t.mu.Lock()
	var since time.Time
	for _, m := range t.messages {
		if !m.Pending() && m.UpdatedAt.After(since) {
			since = m.UpdatedAt
		}
	}
	t.mu.Unlock()

	if since.IsZero() {
		page, err := t.rest.ListMessages(ctx, t.conversationID, "", 0)
		if err != nil {
			return 0, err
		}
		t.mu.Lock()
		t.messages = MergeMessages(t.messages, page.Messages)
		t.mu.Unlock()
		return len(page.Messages), nil
	}

	var fetched []Message
	for {
		batch, err := t.rest.Since(ctx, t.conversationID, since)
		if err != nil {
			return 0, err
		}
		fetched = append(fetched, batch...)
		if len(batch) < MaxSinceRows {
			break
		}
		next := batch[len(batch)-1].UpdatedAt
		if !next.After(since) {
			break
		}
		since = next
	}

	live := make([]Message, 0, len(fetched))
	var deleted []string
	for _, m := range fetched {
		if m.DeletedAt != nil {
			deleted = append(deleted, m.ID)
			continue
		}
		live = append(live, m)
	}

	t.mu.Lock()
	t.messages = MergeMessages(t.messages, live)
	for _, id := range deleted {
		t.removeLocked(id)
	}
	t.mu.Unlock()
	return len(fetched), nil
}

func (t *Thread) indexLocked(id string) int {
	return slices.IndexFunc(t.messages, func(m Message) bool { return m.ID == id })
}

// placeholderLocked finds the placeholder a broadcast settles: by the echoed
// temp id, else the first pending message with the same sender and content.
func (t *Thread) placeholderLocked(m Message) int {
	if m.ClientTempID != "" {
		if i := t.indexLocked(m.ClientTempID); i >= 0 {
			return i
		}
	}
	if t.indexLocked(m.ID) >= 0 {
		return -1
	}
	return slices.IndexFunc(t.messages, func(p Message) bool {
		return p.Pending() &&
			p.SenderID == m.SenderID &&
			p.Content == m.Content &&
			p.ConversationID == m.ConversationID
	})
}

func (t *Thread) removeLocked(id string) {
	t.messages = slices.DeleteFunc(t.messages, func(m Message) bool { return m.ID == id })
}

func (t *Thread) markLocked(ids []uuid.UUID, userID string, read bool) {
	for _, id := range ids {
		i := t.indexLocked(id.String())
		if i < 0 {
			continue
		}
		m := &t.messages[i]
		if read {
			if !slices.Contains(m.ReadBy, userID) {
				m.ReadBy = append(slices.Clone(m.ReadBy), userID)
			}
			continue
		}
		if !slices.Contains(m.DeliveredTo, userID) {
			m.DeliveredTo = append(slices.Clone(m.DeliveredTo), userID)
		}
	}
}

// newerEdit keeps the local copy only when its edit is strictly later.
func newerEdit(local, incoming Message) Message {
	if local.EditedAt != nil && incoming.EditedAt != nil && local.EditedAt.After(*incoming.EditedAt) {
		return local
	}
	return incoming
}
