package services

// Stores bundles the in-memory repositories for black-box tests.
type Stores struct {
	Users         *memUsers
	Follows       *memFollows
	Conversations *memConversations
	Messages      *memMessages
}

func NewStores() *Stores {
	convs := newMemConversations()
	return &Stores{
		Users:         newMemUsers(),
		Follows:       newMemFollows(),
		Conversations: convs,
		Messages:      newMemMessages(convs),
	}
}

func (s *Stores) Mutual(a, b string) {
	s.Follows.mutual(a, b)
}

func (s *Stores) ConversationCount() int {
	s.Conversations.mu.Lock()
	defer s.Conversations.mu.Unlock()
	return len(s.Conversations.order)
}
