package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindDirections(t *testing.T) {
	assert.True(t, SendMessage.FromClient())
	assert.False(t, SendMessage.FromServer())
	assert.True(t, NewMessage.FromServer())
	assert.False(t, NewMessage.FromClient())
	assert.True(t, Typing.FromClient())
	assert.True(t, Typing.FromServer())
	assert.False(t, Kind("bogus").FromClient())
	assert.Len(t, ServerKinds(), 15)
}

func TestEncodeDecode(t *testing.T) {
	id := uuid.New()
	raw, err := Encode(Typing, "req-1", TypingPayload{ConversationID: id, UserID: "user_a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","requestId":"req-1","data":{"conversationId":"`+id.String()+`","userId":"user_a"}}`, string(raw))

	var p TypingPayload
	f, err := Decode(raw, &p)
	require.NoError(t, err)
	assert.Equal(t, Typing, f.Event)
	assert.Equal(t, "req-1", f.RequestID)
	assert.Equal(t, id, p.ConversationID)
}

func TestEncodeWithoutData(t *testing.T) {
	raw, err := Encode(Pong, "", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong"}`, string(raw))
}
