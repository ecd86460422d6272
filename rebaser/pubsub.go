// Package rebaser runs rebases requested over a pub/sub transport and
// announces the change sets they move.
package rebaser

import (
	"context"
	"errors"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("pubsub is closed")

// Message is one delivery on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler handles a received message. Errors are logged by the transport.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes raw payloads.
type Publisher interface {
	// Publish publishes payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Close closes the publisher.
	Close() error
}

// Subscriber delivers messages to handlers.
type Subscriber interface {
	// Subscribe calls handler for each message published to topic until
	// Unsubscribe or until ctx ends.
	Subscribe(ctx context.Context, topic string, subscriberID string, handler Handler) error
	// Unsubscribe removes the subscriber from topic.
	Unsubscribe(ctx context.Context, topic string, subscriberID string) error
	// Close closes the subscriber.
	Close() error
}

// PubSub combines Publisher and Subscriber.
type PubSub interface {
	Publisher
	Subscriber
}

// subscription is the bookkeeping shared by the transports.
type subscription struct {
	topic        string
	subscriberID string
	handler      Handler
	ctx          context.Context
	cancel       context.CancelFunc
}

func newSubscription(ctx context.Context, topic, subscriberID string, handler Handler) *subscription {
	subCtx, cancel := context.WithCancel(ctx)
	return &subscription{
		topic:        topic,
		subscriberID: subscriberID,
		handler:      handler,
		ctx:          subCtx,
		cancel:       cancel,
	}
}

func (s *subscription) deliver(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.handler(s.ctx, msg); err != nil {
		logger.Warnf("subscriber %s failed to handle message on %s: %v", s.subscriberID, msg.Topic, err)
	}
}

func subKey(topic, subscriberID string) string {
	return topic + "\x00" + subscriberID
}
