package rebaser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPubSub carries messages over Redis PUBLISH/SUBSCRIBE. Each
// subscriber holds its own Redis subscription.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redisSubscription
	mutex         sync.Mutex
	closed        bool
}

type redisSubscription struct {
	*subscription
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ PubSub = (*RedisPubSub)(nil)

// NewRedisPubSub wraps client. The connection is checked before returning.
func NewRedisPubSub(client *redis.Client) (*RedisPubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

// Publish publishes payload to the Redis channel named topic.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	ps.mutex.Lock()
	closed := ps.closed
	ps.mutex.Unlock()
	if closed {
		return ErrClosed
	}
	return ps.client.Publish(ctx, topic, payload).Err()
}

// Subscribe subscribes to topic and starts delivering to handler. It
// returns once Redis confirmed the subscription.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler Handler) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}
	key := subKey(topic, subscriberID)
	if _, ok := ps.subscriptions[key]; ok {
		return fmt.Errorf("already subscribed to topic %s with subscriber %s", topic, subscriberID)
	}

	rps := ps.client.Subscribe(ctx, topic)
	if _, err := rps.Receive(ctx); err != nil {
		rps.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	sub := &redisSubscription{
		subscription: newSubscription(ctx, topic, subscriberID, handler),
		pubsub:       rps,
		done:         make(chan struct{}),
	}
	ps.subscriptions[key] = sub
	go sub.run()
	return nil
}

func (s *redisSubscription) run() {
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.deliver(Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}
}

func (s *redisSubscription) stop() error {
	s.cancel()
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Unsubscribe stops the subscriber's delivery loop.
func (ps *RedisPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	key := subKey(topic, subscriberID)
	sub, ok := ps.subscriptions[key]
	delete(ps.subscriptions, key)
	ps.mutex.Unlock()

	if !ok {
		return fmt.Errorf("subscriber %s not found for topic %s", subscriberID, topic)
	}
	return sub.stop()
}

// Close stops every subscription. The Redis client is left open.
func (ps *RedisPubSub) Close() error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return nil
	}
	ps.closed = true
	subs := ps.subscriptions
	ps.subscriptions = make(map[string]*redisSubscription)
	ps.mutex.Unlock()

	for _, sub := range subs {
		if err := sub.stop(); err != nil {
			logger.Warnf("failed to close redis subscription on %s: %v", sub.topic, err)
		}
	}
	return nil
}
