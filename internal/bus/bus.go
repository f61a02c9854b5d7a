// Package bus is a small in-process pub/sub used to fan out record
// lifecycle and webhook events to observers (logging, metrics).
package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity Subscribe gives each subscriber.
const DefaultBuffer = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Subscription receives every event whose topic starts with its prefix.
type Subscription struct {
	prefix  string
	ch      chan Event
	dropped atomic.Int64
}

// Ch returns the channel to receive events on. It is closed by
// Unsubscribe or Bus.Close.
func (s *Subscription) Ch() <-chan Event { return s.ch }

// Dropped counts events lost because the subscriber fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

func (s *Subscription) matches(topic string) bool {
	return strings.HasPrefix(topic, s.prefix)
}

// Bus never blocks a publisher: a subscriber whose buffer is full misses
// the event and its Dropped count goes up.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

func New() *Bus {
	return &Bus{}
}

// Subscribe is SubscribeN with DefaultBuffer. An empty prefix matches all
// topics.
func (b *Bus) Subscribe(prefix string) *Subscription {
	return b.SubscribeN(prefix, DefaultBuffer)
}

// SubscribeN subscribes with a buffer of size events. Subscribing to a
// closed bus yields an already closed subscription.
func (b *Bus) SubscribeN(prefix string, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	sub := &Subscription{prefix: prefix, ch: make(chan Event, size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown or repeated
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish delivers an event to every matching subscriber and reports how
// many received it.
func (b *Bus) Publish(topic string, payload any) int {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// Close closes every subscription. Later publishes reach nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
