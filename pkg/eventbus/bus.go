// Package eventbus provides a small synchronous typed publish/subscribe
// primitive, generalized from the subscribe-returns-channel-and-close-func
// shape used for Redis pub/sub in the bluetooth service this module grew
// out of.
package eventbus

import "sync"

// Bus fans a single event type out to any number of subscribers. Firing is
// synchronous: Publish returns only once every subscriber callback
// registered at the time of the call has run. Callers must not hold the
// producing component's own lock while calling Publish, since a subscriber
// is free to call back into that component.
type Bus[T any] struct {
	mu   sync.Mutex
	subs map[int]func(T)
	next int
}

// New returns an empty bus for event type T.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn to be called on every future Publish. It returns
// an unsubscribe func; calling it more than once is a no-op.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish fires event at every subscriber currently registered. Subscribers
// added or removed during a Publish call do not affect that call's
// delivery set.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// NumSubscribers reports the current subscriber count, for tests.
func (b *Bus[T]) NumSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
