package services

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"pulse-dm/internal/domain/conversation"
	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"
	"pulse-dm/internal/repository"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
)

type emitted struct {
	Room string
	Kind protocol.Kind
	Data any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) ToUser(_ context.Context, userID string, kind protocol.Kind, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Room: "user:" + userID, Kind: kind, Data: data})
}

func (e *recordingEmitter) ToConversation(_ context.Context, id uuid.UUID, kind protocol.Kind, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Room: "conversation:" + id.String(), Kind: kind, Data: data})
}

func (e *recordingEmitter) ofKind(kind protocol.Kind) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type memUsers struct {
	mu       sync.Mutex
	profiles map[string]user.Profile
	upserts  int
}

func newMemUsers() *memUsers {
	return &memUsers{profiles: map[string]user.Profile{}}
}

func (r *memUsers) Upsert(_ context.Context, p user.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.profiles[p.ID] = p
	return nil
}

func (r *memUsers) GetByID(_ context.Context, id string) (user.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return user.Profile{}, pulse_errors.ErrNotFound
	}
	return p, nil
}

func (r *memUsers) GetByIDs(_ context.Context, ids []string) (map[string]user.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]user.Profile{}
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type memFollows struct {
	mu    sync.Mutex
	edges map[[2]string]bool
	reads int
}

func newMemFollows() *memFollows {
	return &memFollows{edges: map[[2]string]bool{}}
}

func (r *memFollows) Follow(_ context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[[2]string{a, b}] = true
	return nil
}

func (r *memFollows) Unfollow(_ context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, [2]string{a, b})
	return nil
}

func (r *memFollows) IsMutual(_ context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return r.edges[[2]string{a, b}] && r.edges[[2]string{b, a}], nil
}

func (r *memFollows) mutual(a, b string) {
	_ = r.Follow(context.Background(), a, b)
	_ = r.Follow(context.Background(), b, a)
}

type memConversations struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]conversation.Conversation
	order []uuid.UUID
}

func newMemConversations() *memConversations {
	return &memConversations{byID: map[uuid.UUID]conversation.Conversation{}}
}

func (r *memConversations) findPair(a, b string) (conversation.Conversation, bool) {
	lo, hi := conversation.CanonicalPair(a, b)
	for _, c := range r.byID {
		clo, chi := conversation.CanonicalPair(c.Participants[0], c.Participants[1])
		if clo == lo && chi == hi {
			return c, true
		}
	}
	return conversation.Conversation{}, false
}

func (r *memConversations) FindOrCreate(_ context.Context, initiatorID, recipientID string) (conversation.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.findPair(initiatorID, recipientID); ok {
		return c, false, nil
	}
	now := time.Now().UTC()
	c := conversation.Conversation{
		ID:             uuid.New(),
		Participants:   [2]string{initiatorID, recipientID},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.byID[c.ID] = c
	r.order = append(r.order, c.ID)
	return c, true, nil
}

func (r *memConversations) FindByPair(_ context.Context, a, b string) (conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.findPair(a, b); ok {
		return c, nil
	}
	return conversation.Conversation{}, pulse_errors.ErrNotFound
}

func (r *memConversations) GetByID(_ context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return conversation.Conversation{}, pulse_errors.ErrNotFound
	}
	return c, nil
}

func (r *memConversations) ListForUser(_ context.Context, userID string, limit, offset int) ([]conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range r.byID {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memConversations) ListIDsForUser(_ context.Context, userID string) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for _, id := range r.order {
		if r.byID[id].HasParticipant(userID) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memConversations) IsParticipant(_ context.Context, id uuid.UUID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return ok && c.HasParticipant(userID), nil
}

func (r *memConversations) touch(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID[id]
	c.LastActivityAt = at
	r.byID[id] = c
}

type memMessages struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]message.Message
	convs *memConversations
	clock time.Time
}

func newMemMessages(convs *memConversations) *memMessages {
	return &memMessages{rows: map[uuid.UUID]message.Message{}, convs: convs, clock: time.Now().UTC()}
}

// tick hands out strictly increasing timestamps so ordering is deterministic.
func (r *memMessages) tick() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func (r *memMessages) Create(_ context.Context, m *message.Message) error {
	r.mu.Lock()
	m.ID = uuid.New()
	m.CreatedAt = r.tick()
	m.UpdatedAt = m.CreatedAt
	r.rows[m.ID] = *m
	r.mu.Unlock()
	r.convs.touch(m.ConversationID, m.CreatedAt)
	return nil
}

func (r *memMessages) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return message.Message{}, pulse_errors.ErrNotFound
	}
	return m, nil
}

func (r *memMessages) update(id uuid.UUID, fn func(m *message.Message)) (message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return message.Message{}, pulse_errors.ErrNotFound
	}
	now := r.tick()
	fn(&m)
	m.UpdatedAt = now
	r.rows[id] = m
	return m, nil
}

func (r *memMessages) UpdateContent(_ context.Context, id uuid.UUID, content string) (message.Message, error) {
	return r.update(id, func(m *message.Message) {
		m.Content = content
		at := r.clock
		m.EditedAt = &at
	})
}

func (r *memMessages) SoftDelete(_ context.Context, id uuid.UUID) (message.Message, error) {
	return r.update(id, func(m *message.Message) {
		if m.DeletedAt == nil {
			at := r.clock
			m.DeletedAt = &at
		}
	})
}

func (r *memMessages) SetReaction(_ context.Context, id uuid.UUID, userID, reaction string) (message.Message, error) {
	return r.update(id, func(m *message.Message) {
		next := map[string]string{}
		for k, v := range m.Reactions {
			next[k] = v
		}
		if reaction == "" {
			delete(next, userID)
		} else {
			next[userID] = reaction
		}
		m.Reactions = next
	})
}

func (r *memMessages) MarkRead(_ context.Context, conversationID uuid.UUID, userID string, messageID *uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []uuid.UUID
	for id, m := range r.rows {
		if m.ConversationID != conversationID || m.SenderID == userID || m.IsDeleted() || m.IsReadBy(userID) {
			continue
		}
		if messageID != nil && *messageID != id {
			continue
		}
		m.ReadBy = append(slices.Clone(m.ReadBy), userID)
		if !slices.Contains(m.DeliveredTo, userID) {
			m.DeliveredTo = append(slices.Clone(m.DeliveredTo), userID)
		}
		m.UpdatedAt = r.tick()
		r.rows[id] = m
		changed = append(changed, id)
	}
	return changed, nil
}

func (r *memMessages) MarkDelivered(_ context.Context, conversationID uuid.UUID, userID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []uuid.UUID
	for _, id := range ids {
		m, ok := r.rows[id]
		if !ok || m.ConversationID != conversationID || m.SenderID == userID || m.IsDeleted() || slices.Contains(m.DeliveredTo, userID) {
			continue
		}
		m.DeliveredTo = append(slices.Clone(m.DeliveredTo), userID)
		m.UpdatedAt = r.tick()
		r.rows[id] = m
		changed = append(changed, id)
	}
	return changed, nil
}

func (r *memMessages) LiveIDs(_ context.Context, conversationID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []uuid.UUID
	for _, id := range ids {
		if m, ok := r.rows[id]; ok && m.ConversationID == conversationID && !m.IsDeleted() {
			live = append(live, id)
		}
	}
	return live, nil
}

func (r *memMessages) sorted(conversationID uuid.UUID, keep func(message.Message) bool) []message.Message {
	var out []message.Message
	for _, m := range r.rows {
		if m.ConversationID == conversationID && keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memMessages) page(conversationID uuid.UUID, before *repository.Cursor, limit int, keep func(message.Message) bool) []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message.Message
	for _, m := range r.sorted(conversationID, keep) {
		if before != nil && !m.CreatedAt.Before(before.CreatedAt) {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (r *memMessages) List(_ context.Context, conversationID uuid.UUID, before *repository.Cursor, limit int) ([]message.Message, error) {
	return r.page(conversationID, before, limit, func(m message.Message) bool { return !m.IsDeleted() }), nil
}

func (r *memMessages) Search(_ context.Context, conversationID uuid.UUID, query string, before *repository.Cursor, limit int) ([]message.Message, error) {
	q := strings.ToLower(query)
	return r.page(conversationID, before, limit, func(m message.Message) bool {
		return !m.IsDeleted() && strings.Contains(strings.ToLower(m.Content), q)
	}), nil
}

func (r *memMessages) Since(_ context.Context, conversationID uuid.UUID, since time.Time, limit int) ([]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []message.Message
	for _, m := range r.rows {
		if m.ConversationID == conversationID && m.UpdatedAt.After(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memMessages) LatestByConversation(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]message.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID]message.Message{}
	for _, id := range ids {
		live := r.sorted(id, func(m message.Message) bool { return !m.IsDeleted() })
		if len(live) > 0 {
			out[id] = live[0]
		}
	}
	return out, nil
}

func (r *memMessages) unread(m message.Message, userID string) bool {
	return m.SenderID != userID && !m.IsDeleted() && !m.IsReadBy(userID)
}

func (r *memMessages) UnreadByConversation(_ context.Context, userID string, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID]int64{}
	for _, m := range r.rows {
		if slices.Contains(ids, m.ConversationID) && r.unread(m, userID) {
			out[m.ConversationID]++
		}
	}
	return out, nil
}

func (r *memMessages) TotalUnread(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.rows {
		member, _ := r.convs.IsParticipant(context.Background(), m.ConversationID, userID)
		if member && r.unread(m, userID) {
			n++
		}
	}
	return n, nil
}

func (r *memMessages) PurgeDeleted(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.rows {
		if m.DeletedAt != nil && m.DeletedAt.Before(cutoff) && m.Content != "" {
			m.Content = ""
			m.Attachments = nil
			r.rows[id] = m
			n++
		}
	}
	return n, nil
}
