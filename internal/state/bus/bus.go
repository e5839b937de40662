// Package bus provides a process-wide multi-subscriber broadcast.
//
// One generic implementation carries every notification stream in tasksync:
// entity lifecycle events, dirty-view notices, save status and error reports.
// Publishing never blocks. A subscriber that falls behind loses the newest
// messages once its buffer is full, and the loss is counted in Dropped.
package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity used when New gets 0.
const DefaultBuffer = 64

// Bus broadcasts values of type T to all current subscribers.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	buffer int
	closed bool

	dropped atomic.Uint64
}

// Subscription receives published values on C until Unsubscribe is called
// or the bus is closed, after which C is closed.
type Subscription[T any] struct {
	C <-chan T

	ch   chan T
	id   uint64
	bus  *Bus[T]
	once sync.Once
}

// New creates a bus whose subscribers buffer up to buffer values.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{
		subs:   make(map[uint64]*Subscription[T]),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The caller must call Unsubscribe when done.
// Subscribing to a closed bus returns a subscription whose channel is already closed.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, b.buffer)
	sub := &Subscription[T]{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.once.Do(func() { close(s.ch) })
}

// Publish delivers v to every subscriber with room in its buffer and returns
// the number of subscribers that received it.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}
}
