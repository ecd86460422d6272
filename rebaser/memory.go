package rebaser

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPubSub delivers messages between subscribers of one process. Each
// delivery runs on its own goroutine.
type MemoryPubSub struct {
	subscriptions map[string][]*subscription
	mutex         sync.RWMutex
	closed        bool
}

var _ PubSub = (*MemoryPubSub)(nil)

// NewMemoryPubSub creates an empty in-process transport.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subscriptions: make(map[string][]*subscription)}
}

// Publish delivers payload to every current subscriber of topic. Messages
// without subscribers are dropped.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if ps.closed {
		return ErrClosed
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for _, sub := range ps.subscriptions[topic] {
		go sub.deliver(msg)
	}
	return nil
}

// Subscribe registers handler for topic.
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler Handler) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}
	for _, sub := range ps.subscriptions[topic] {
		if sub.subscriberID == subscriberID {
			return fmt.Errorf("already subscribed to topic %s with subscriber %s", topic, subscriberID)
		}
	}
	ps.subscriptions[topic] = append(ps.subscriptions[topic], newSubscription(ctx, topic, subscriberID, handler))
	return nil
}

// Unsubscribe removes subscriberID from topic.
func (ps *MemoryPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}

	subscribers := ps.subscriptions[topic]
	kept := subscribers[:0]
	found := false
	for _, sub := range subscribers {
		if sub.subscriberID == subscriberID {
			sub.cancel()
			found = true
			continue
		}
		kept = append(kept, sub)
	}
	if !found {
		return fmt.Errorf("subscriber %s not found for topic %s", subscriberID, topic)
	}

	if len(kept) == 0 {
		delete(ps.subscriptions, topic)
	} else {
		ps.subscriptions[topic] = kept
	}
	return nil
}

// Close cancels every subscription.
func (ps *MemoryPubSub) Close() error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, subscribers := range ps.subscriptions {
		for _, sub := range subscribers {
			sub.cancel()
		}
	}
	ps.subscriptions = make(map[string][]*subscription)
	return nil
}
