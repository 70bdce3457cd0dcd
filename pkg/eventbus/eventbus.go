// Package eventbus implements an in-process publish/subscribe bus used to
// fan out pipeline events to SSE subscribers without coupling producers to
// the HTTP layer.
package eventbus

import (
	"sync"

	"go.uber.org/atomic"
)

// Topic names the three channels the pipeline publishes on.
type Topic string

const (
	TopicLogReceived      Topic = "log.received"
	TopicMetricAggregated Topic = "metric.aggregated"
	TopicAlertTriggered   Topic = "alert.triggered"
)

// DefaultQueueSize is the per-subscriber buffered channel capacity.
const DefaultQueueSize = 1024

// Event is one published message: Topic identifies the channel, Payload is
// the component-specific value (model.LogRecord, model.MetricSample, or
// model.Alert).
type Event struct {
	Topic   Topic
	Payload any
}

// Subscription is a live subscriber's receive end. Events arrive on C;
// Close unsubscribes and must be called exactly once, typically via defer
// when an SSE connection ends.
type Subscription struct {
	C      <-chan Event
	id     uint64
	bus    *Bus
	topics map[Topic]bool
}

// Close unsubscribes. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id      uint64
	ch      chan Event
	topics  map[Topic]bool
	dropped atomic.Int64
}

// Bus is the EventBus component: a bounded, drop-oldest, never-blocks-the-
// producer fan-out of pipeline events to SSE subscribers. Each subscriber's
// queue is its own MPSC channel; Publish never holds a lock while sending.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber

	queueSize int
}

// New constructs a Bus. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{subs: make(map[uint64]*subscriber), queueSize: queueSize}
}

// Subscribe registers a new subscriber for the given topics (all topics if
// empty) and returns its Subscription. Callers must Close it when done.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	filter := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		filter[t] = true
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Event, b.queueSize), topics: filter}
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{C: sub.ch, id: id, bus: b, topics: filter}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish fans Event out to every matching subscriber. If a subscriber's
// queue is full, the oldest queued event for that subscriber is dropped to
// make room and its drop counter is incremented; Publish itself never
// blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[evt.Topic] {
			continue
		}
		b.deliver(sub, evt)
	}
}

func (b *Bus) deliver(sub *subscriber, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}

	// Queue full: drop the oldest queued event to make room, per the
	// bus's drop-oldest backpressure policy.
	select {
	case <-sub.ch:
		sub.dropped.Inc()
	default:
	}
	select {
	case sub.ch <- evt:
	default:
		sub.dropped.Inc()
	}
}

// Dropped returns the number of events dropped for subscriber id since it
// subscribed. Used by tests and metrics; returns 0 for an unknown id.
func (b *Bus) Dropped(id uint64) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// ID exposes the subscription's internal id for Bus.Dropped lookups in
// tests and metrics collectors.
func (s *Subscription) ID() uint64 { return s.id }

// SubscriberCount reports the number of currently live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
