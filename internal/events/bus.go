// Package events carries the one explicit cross-repository contract of the
// client: after a successful friend rename or avatar change, the friend
// repository publishes FriendIdentityChanged and the postcard repository and
// the exchange reconciler refetch, so denormalized copies of a friend's
// display identity never go stale. Keeping this as an event keeps the
// dependency direction leaf-ward instead of wiring repositories to each other.
package events

import "sync"

// FriendIdentityChanged is published when a friend's display identity
// (name or avatar) changed remotely.
type FriendIdentityChanged struct {
	FriendID string
}

// Bus is a small synchronous fan-out hub. Callbacks run on the publishing
// goroutine, in subscription order.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(FriendIdentityChanged)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(FriendIdentityChanged))}
}

// Subscribe registers a callback. The returned function unsubscribes and is
// safe to call more than once.
func (b *Bus) Subscribe(fn func(FriendIdentityChanged)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(e FriendIdentityChanged) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	fns := make([]func(FriendIdentityChanged), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
