package events

import (
	"strings"

	"github.com/google/uuid"
)

const (
	ChannelPrefixUser         = "channel:user:"
	ChannelPrefixConversation = "channel:conversation:"

	// ChannelPattern matches every room channel for PSUBSCRIBE.
	ChannelPattern = "channel:*"
)

func UserChannel(userID string) string {
	return ChannelPrefixUser + userID
}

func ConversationChannel(conversationID uuid.UUID) string {
	return ChannelPrefixConversation + conversationID.String()
}

// ParseConversationChannel extracts the conversation id from a room name.
func ParseConversationChannel(channel string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(channel, ChannelPrefixConversation)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ParseUserChannel extracts the user id from a room name.
func ParseUserChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, ChannelPrefixUser)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
