// Package broadcast fans the latest value of some piece of state out to any
// number of subscribers.
package broadcast

import "sync"

// Hub holds a current value and pushes every new value to its subscribers.
// Each subscriber channel has room for one value; a subscriber that falls
// behind sees only the latest value (updates coalesce, nothing is replayed).
type Hub[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[uint64]chan T
	next   uint64
	closed bool
}

// NewHub returns a hub whose current value is initial.
func NewHub[T any](initial T) *Hub[T] {
	return &Hub[T]{cur: initial, subs: make(map[uint64]chan T)}
}

// Current returns the latest published value.
func (h *Hub[T]) Current() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// Publish replaces the current value and offers it to every subscriber.
// It never blocks on a slow subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.cur = v
	for _, ch := range h.subs {
		offer(ch, v)
	}
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// drop the stale value
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe returns a channel that first yields the current value and then
// every later one. The returned func unsubscribes and closes the channel.
// Subscribing to a closed hub yields an already closed channel.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan T, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- h.cur
	id := h.next
	h.next++
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
// Close is idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
