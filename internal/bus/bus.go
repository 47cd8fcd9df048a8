// Package bus broadcasts "the recipient list changed" signals to every store
// handle in the process.
package bus

import (
	"sync"
	"time"
)

// Source tells subscribers where a change came from.
type Source int

const (
	// Local changes were made through a store handle in this process.
	Local Source = iota
	// External changes were written by another process and picked up by a
	// relay or the slot watcher.
	External
)

func (s Source) String() string {
	switch s {
	case Local:
		return "local"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// Event is a change signal. It carries no payload; subscribers re-read the
// collection.
type Event struct {
	Key    string
	Source Source
	// Origin identifies the publishing handle or process. Relays use it to
	// drop their own echoes.
	Origin string
	At     time.Time
}

// Handler receives events. Handlers must be idempotent and must not block
// for long: delivery is synchronous.
type Handler func(Event)

type subscription struct {
	id int64
	fn Handler
}

// Bus is a synchronous fan-out. The zero value is ready to use.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   []subscription
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish delivers e to every current subscriber in registration order.
// The subscriber list is copied first, so handlers may subscribe,
// unsubscribe or publish without deadlocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Len reports the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
