package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"pulse-dm/internal/proxy"
	redisstore "pulse-dm/internal/redis"
	pulse_errors "pulse-dm/pkg/errors"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPresenceHarness(t *testing.T) (*PresenceService, *harness, *redisstore.PresenceStore) {
	t.Helper()
	h := newHarness(t)
	store := redisstore.NewPresenceStore(newRedis(t), time.Minute)
	svc := NewPresenceService(store, h.convs, proxy.NewAccessControl(h.convs), h.emitter, nil)
	return svc, h, store
}

func TestPresenceBroadcastsFirstAndLastConnection(t *testing.T) {
	svc, h, _ := newPresenceHarness(t)
	ctx := context.Background()
	h.send(t, "user_a", "user_b", "hi")

	svc.Connected(ctx, "user_a", "c1")
	svc.Connected(ctx, "user_a", "c2")
	statuses := h.emitter.ofKind(protocol.UserStatusChange)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Data.(protocol.UserStatusPayload).Online)

	svc.Disconnected(ctx, "user_a", "c1")
	assert.Len(t, h.emitter.ofKind(protocol.UserStatusChange), 1)

	svc.Disconnected(ctx, "user_a", "c2")
	statuses = h.emitter.ofKind(protocol.UserStatusChange)
	require.Len(t, statuses, 2)
	offline := statuses[1].Data.(protocol.UserStatusPayload)
	assert.False(t, offline.Online)
	require.NotNil(t, offline.LastSeen)
}

func TestTypingRequiresParticipant(t *testing.T) {
	svc, h, _ := newPresenceHarness(t)
	m := h.send(t, "user_a", "user_b", "hi")

	err := svc.Typing(context.Background(), "user_c", m.ConversationID)
	assert.ErrorIs(t, err, pulse_errors.ErrNotFound)
	assert.Empty(t, h.emitter.ofKind(protocol.Typing))
}

func TestStopTypingOnlyWhenActive(t *testing.T) {
	svc, h, store := newPresenceHarness(t)
	ctx := context.Background()
	m := h.send(t, "user_a", "user_b", "hi")

	require.NoError(t, svc.StopTyping(ctx, "user_a", m.ConversationID))
	assert.Empty(t, h.emitter.ofKind(protocol.StopTyping))

	require.NoError(t, svc.Typing(ctx, "user_a", m.ConversationID))
	typing, err := store.GetTypingUsers(ctx, m.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_a"}, typing)

	require.NoError(t, svc.StopTyping(ctx, "user_a", m.ConversationID))
	assert.Len(t, h.emitter.ofKind(protocol.StopTyping), 1)
	typing, err = store.GetTypingUsers(ctx, m.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestDisconnectClearsTyping(t *testing.T) {
	svc, h, _ := newPresenceHarness(t)
	ctx := context.Background()
	m := h.send(t, "user_a", "user_b", "hi")

	svc.Connected(ctx, "user_a", "c1")
	require.NoError(t, svc.Typing(ctx, "user_a", m.ConversationID))
	svc.Disconnected(ctx, "user_a", "c1")

	stops := h.emitter.ofKind(protocol.StopTyping)
	require.Len(t, stops, 1)
	assert.Equal(t, "user_a", stops[0].Data.(protocol.TypingPayload).UserID)
}

func TestOpenCloseConversation(t *testing.T) {
	svc, h, store := newPresenceHarness(t)
	ctx := context.Background()
	m := h.send(t, "user_a", "user_b", "hi")

	require.NoError(t, svc.OpenConversation(ctx, "user_b", m.ConversationID))
	ok, err := store.IsViewing(ctx, "user_b", m.ConversationID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.CloseConversation(ctx, "user_b", m.ConversationID))
	ok, err = store.IsViewing(ctx, "user_b", m.ConversationID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.OpenConversation(ctx, "user_c", m.ConversationID), pulse_errors.ErrNotFound)
}

func TestTypingTrackerExpires(t *testing.T) {
	var fired atomic.Int32
	conv := uuid.New()
	tracker := NewTypingTracker(20*time.Millisecond, func(c uuid.UUID, u string) {
		if c == conv && u == "user_a" {
			fired.Add(1)
		}
	})

	assert.True(t, tracker.Touch(conv, "user_a"))
	assert.False(t, tracker.Touch(conv, "user_a"))
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, tracker.Active(conv, "user_a"))

	tracker.Touch(conv, "user_a")
	assert.True(t, tracker.Stop(conv, "user_a"))
	assert.False(t, tracker.Stop(conv, "user_a"))
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
}

func TestTypingTrackerStopUser(t *testing.T) {
	tracker := NewTypingTracker(time.Minute, nil)
	a, b := uuid.New(), uuid.New()
	tracker.Touch(a, "user_a")
	tracker.Touch(b, "user_a")
	tracker.Touch(a, "user_b")

	assert.ElementsMatch(t, []uuid.UUID{a, b}, tracker.StopUser("user_a"))
	assert.True(t, tracker.Active(a, "user_b"))
}

func TestTypingInExcludesCaller(t *testing.T) {
	svc, h, _ := newPresenceHarness(t)
	ctx := context.Background()
	m := h.send(t, "user_a", "user_b", "hi")
	quiet := uuid.New()

	require.NoError(t, svc.Typing(ctx, "user_a", m.ConversationID))
	require.NoError(t, svc.Typing(ctx, "user_b", m.ConversationID))

	typing := svc.TypingIn(ctx, "user_b", []uuid.UUID{m.ConversationID, quiet})
	assert.Equal(t, map[uuid.UUID][]string{m.ConversationID: {"user_a"}}, typing)

	require.NoError(t, svc.StopTyping(ctx, "user_a", m.ConversationID))
	assert.Empty(t, svc.TypingIn(ctx, "user_b", []uuid.UUID{m.ConversationID}))
}
