package events

import (
	"context"

	"pulse-dm/internal/metrics"
	"pulse-dm/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers an encoded frame to every subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber pattern-subscribes to channels and calls handler for each
// payload, one at a time and in arrival order, until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error
}

// Broadcaster is the local fan-out side, implemented by the websocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// LocalPublisher hands frames straight to an in-process hub. Used for
// single-node deployments and tests.
type LocalPublisher struct {
	hub Broadcaster
}

func NewLocalPublisher(hub Broadcaster) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.hub.Broadcast(channel, payload)
	return nil
}

// Emitter encodes server events and routes them to rooms. Emits are
// fire-and-forget: failures are logged and counted, never returned.
type Emitter struct {
	pub    Publisher
	logger *zap.Logger
}

func NewEmitter(pub Publisher, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pub: pub, logger: logger.With(zap.String("component", "events"))}
}

func (e *Emitter) ToUser(ctx context.Context, userID string, kind protocol.Kind, data any) {
	e.emit(ctx, UserChannel(userID), kind, data)
}

func (e *Emitter) ToConversation(ctx context.Context, conversationID uuid.UUID, kind protocol.Kind, data any) {
	e.emit(ctx, ConversationChannel(conversationID), kind, data)
}

func (e *Emitter) emit(ctx context.Context, channel string, kind protocol.Kind, data any) {
	if e == nil || e.pub == nil {
		return
	}
	payload, err := protocol.Encode(kind, "", data)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(kind), "encode_error").Inc()
		e.logger.Error("encode event failed", zap.String("event", string(kind)), zap.Error(err))
		return
	}
	if err := e.pub.Publish(ctx, channel, payload); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(kind), "error").Inc()
		e.logger.Warn("publish event failed",
			zap.String("event", string(kind)),
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(kind), "ok").Inc()
}
