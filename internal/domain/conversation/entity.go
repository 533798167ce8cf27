package conversation

import (
	"time"

	"pulse-dm/internal/domain/message"
	"pulse-dm/internal/domain/user"

	"github.com/google/uuid"
)

// Conversation represents the conversations table. Participants keeps the
// initiator first; lookups go through the canonical pair.
type Conversation struct {
	ID             uuid.UUID `json:"id"`
	Participants   [2]string `json:"participants"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Summary is a conversation as seen by one participant in their inbox.
type Summary struct {
	Conversation
	Peer        Peer             `json:"peer"`
	LastMessage *message.Message `json:"lastMessage,omitempty"`
	UnreadCount int64            `json:"unreadCount"`
}

// Peer is the other participant with their presence. LastSeen is only set
// while they are offline.
type Peer struct {
	user.Profile
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// CanonicalPair orders two user ids so (a,b) and (b,a) map to the same key.
// The order is bytewise, matching the "C" collation of user_low/user_high.
func CanonicalPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

