package redis

import (
	"context"
	"errors"
	"fmt"

	pulse_errors "pulse-dm/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// Publisher fans encoded frames out to every API instance.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", pulse_errors.ErrTransport, channel, err)
	}
	return nil
}

// Subscriber is the receiving side of Publisher.
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe holds one PSUBSCRIBE connection so handler sees payloads in
// publish order. It returns nil once ctx is done and an ErrTransport
// wrapped error when the connection drops.
func (s *Subscriber) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	sub := s.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: psubscribe: %v", pulse_errors.ErrTransport, err)
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%w: receive: %v", pulse_errors.ErrTransport, err)
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
