package events

import (
	"sync"
)

// Topic fans a value out to every current listener, in subscription order.
// The zero value is ready to use. Listeners run on the publisher's goroutine
// and may subscribe or release during delivery.
type Topic[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (t *Topic[T]) Subscribe(fn func(T)) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listener[T]{id: id, fn: fn})
	return &Subscription{release: func() { t.remove(id) }}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	snapshot := make([]listener[T], len(t.listeners))
	copy(snapshot, t.listeners)
	t.mu.Unlock()

	for _, l := range snapshot {
		l.fn(value)
	}
}

// Len is the number of live subscriptions.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// Subscription is the handle returned by Subscribe. Releasing it detaches the
// listener; further releases are no-ops.
type Subscription struct {
	once    sync.Once
	release func()
}

func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Group releases a set of subscriptions together, typically from a Close method.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, subs...)
}

func (g *Group) Release() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Release()
	}
}
