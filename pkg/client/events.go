// Package client is the Go SDK for pulse-dm: a reconnecting socket
// connection, a REST fallback and per-conversation optimistic threads.
package client

import "pulse-dm/pkg/protocol"

// EventKind is the wire event name, shared with the server.
type EventKind = protocol.Kind

// Server events a client can subscribe to.
const (
	EventNewMessage             = protocol.NewMessage
	EventMessageEdited          = protocol.MessageEdited
	EventMessageDeleted         = protocol.MessageDeleted
	EventMessageRead            = protocol.MessageRead
	EventConversationRead       = protocol.ConversationRead
	EventMessageDelivered       = protocol.MessageDelivered
	EventReactionUpdated        = protocol.ReactionUpdated
	EventTyping                 = protocol.Typing
	EventStopTyping             = protocol.StopTyping
	EventUserStatusChange       = protocol.UserStatusChange
	EventNewConversation        = protocol.NewConversation
	EventNewMessageNotification = protocol.NewMessageNotification
	EventError                  = protocol.Error
)

// Frame is one decoded server event.
type Frame = protocol.Frame
