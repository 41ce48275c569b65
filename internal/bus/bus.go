// Package bus provides the process-wide refresh signal that decouples
// "a session's derived state changed" from whichever views happen to be
// mounted. It carries no payload: subscribers re-derive their own state.
package bus

import "sync"

type subscriber struct {
	id int
	fn func()
}

// Bus is an unbuffered multicast signal. Subscribers present at publish
// time are notified synchronously in publish order; later subscribers do
// not see past publishes. The bus never coalesces publishes — that is a
// consumer-side optimization.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a cancel func. The cancel func is
// idempotent. fn must not block; long work belongs on the subscriber's
// own goroutine.
func (b *Bus) Subscribe(fn func()) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish notifies all current subscribers. Callbacks run outside the
// bus lock so a subscriber may subscribe or unsubscribe reentrantly;
// such changes take effect for the next publish.
func (b *Bus) Publish() {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn()
	}
}
