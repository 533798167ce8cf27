package client

import (
	"encoding/json"
	"testing"

	"pulse-dm/pkg/protocol"

	"github.com/stretchr/testify/assert"
)

func TestBusOnAndUnsubscribe(t *testing.T) {
	b := NewBus()
	var got []string
	off := b.On(EventTyping, func(Frame) { got = append(got, "first") })
	b.On(EventTyping, func(Frame) { got = append(got, "second") })
	b.On(EventStopTyping, func(Frame) { got = append(got, "stop") })

	b.Emit(Frame{Event: EventTyping})
	assert.Equal(t, []string{"first", "second"}, got)

	off()
	off()
	got = nil
	b.Emit(Frame{Event: EventTyping})
	assert.Equal(t, []string{"second"}, got)

	b.Off(EventTyping)
	got = nil
	b.Emit(Frame{Event: EventTyping})
	b.Emit(Frame{Event: EventStopTyping})
	assert.Equal(t, []string{"stop"}, got)
}

func TestOnDataDecodes(t *testing.T) {
	b := NewBus()
	var got []protocol.UserStatusPayload
	OnData(b, EventUserStatusChange, func(p protocol.UserStatusPayload) { got = append(got, p) })

	raw, _ := json.Marshal(protocol.UserStatusPayload{UserID: "user_b", Online: true})
	b.Emit(Frame{Event: EventUserStatusChange, Data: raw})
	b.Emit(Frame{Event: EventUserStatusChange, Data: json.RawMessage(`[1,2]`)})

	if assert.Len(t, got, 1) {
		assert.Equal(t, "user_b", got[0].UserID)
		assert.True(t, got[0].Online)
	}
}
