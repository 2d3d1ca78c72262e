// Package bus implements the in-process publish/subscribe bus that glues the
// ranker, decision engine, and narration orchestrator together.
//
// Three logical topics exist: scores, switch, and narration. Each subscriber
// owns a bounded queue (default 256 events). Publishers never block: when a
// subscriber's queue is full the oldest event is dropped and a counter is
// incremented, so a slow consumer can never stall the pipeline.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Topic names the three logical event streams.
type Topic string

const (
	TopicScores    Topic = "scores"
	TopicSwitch    Topic = "switch"
	TopicNarration Topic = "narration"
)

// DefaultQueueSize is the per-subscriber queue depth used when a
// subscription does not specify one.
const DefaultQueueSize = 256

// Subscription is a handle to one subscriber's bounded event queue.
// Events are received from C; Close releases the subscription.
type Subscription struct {
	topic   Topic
	ch      chan types.Event
	dropped atomic.Int64

	bus       *Bus
	closeOnce sync.Once
}

// C returns the subscriber's receive channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) C() <-chan types.Event { return s.ch }

// Dropped returns the number of events dropped because this subscriber's
// queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close removes the subscription from the bus and closes its channel.
// Safe to call more than once, and safe against concurrent Publish calls:
// unsubscribe takes the bus write lock, so it returns only after in-flight
// deliveries (which hold the read lock) have finished.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.closeOnce.Do(func() { close(s.ch) })
}

// Bus is the in-process pub/sub hub. The zero value is not usable; call New.
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*Subscription
	closed bool

	// onDrop, when non-nil, is invoked once per dropped event with the topic
	// name. Used to feed the observability counter.
	onDrop func(topic Topic)
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropHandler registers fn to be called each time an event is dropped
// from a full subscriber queue.
func WithDropHandler(fn func(topic Topic)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[Topic][]*Subscription)}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a new subscriber on topic with a queue of size n.
// n ≤ 0 uses DefaultQueueSize. Returns nil if the bus is closed.
func (b *Bus) Subscribe(topic Topic, n int) *Subscription {
	if n <= 0 {
		n = DefaultQueueSize
	}
	sub := &Subscription{
		topic: topic,
		ch:    make(chan types.Event, n),
		bus:   b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Publish delivers ev to every subscriber of topic. It never blocks: a full
// subscriber queue drops its oldest event to make room.
//
// Delivery happens under the read lock. Subscription.Close removes the
// subscription under the write lock before closing its channel, so a channel
// can never close while a send is in flight.
func (b *Bus) Publish(topic Topic, ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Queue full: evict the oldest event, then retry once. A concurrent
		// reader may have drained the queue in between, so the retry can
		// still succeed without an eviction.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
}

// Close closes the bus and every subscription channel. Publishing after
// Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
		delete(b.subs, topic)
	}
	slog.Debug("bus closed")
}

func (b *Bus) unsubscribe(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	subs := b.subs[target.topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
