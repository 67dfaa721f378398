// Package observer implements spec.md §4.8: a one-to-many notification
// dispatcher with RAII-style unsubscribe, and a Dependency state machine
// layered on store.Store for resolve-once-then-subscribe asset handles.
//
// Grounded on the teacher's kernel/threads/pattern/subscriber.go
// (mutex-guarded subscriber map, subscribe returns a token, notify
// iterates a snapshot) generalized to a typed-event generic and an
// explicit KeepObserving/Unsubscribe per-call return value.
package observer

import (
	"sync"
	"sync/atomic"
)

// Action is an observer's verdict after handling one event: whether the
// dispatcher should keep calling it on future events.
type Action uint8

const (
	KeepObserving Action = iota
	Unsubscribe
)

// ObserverFunc handles one event and reports whether to keep observing.
type ObserverFunc[E any] func(event E) Action

// ObserveDispatcher holds a set of observers and notifies them of events
// of type E (spec.md §4.8 "ObserveDispatcher<E>").
type ObserveDispatcher[E any] struct {
	mu        sync.Mutex
	observers map[int64]ObserverFunc[E]
	nextID    atomic.Int64
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher[E any]() *ObserveDispatcher[E] {
	return &ObserveDispatcher[E]{observers: make(map[int64]ObserverFunc[E])}
}

// Subscribe registers f and returns a Subscription whose Unsubscribe
// removes it. Unlike Rust's Drop-triggered RAII, Go requires the caller
// to call Unsubscribe explicitly — there is no destructor to do it for
// them.
func (d *ObserveDispatcher[E]) Subscribe(f ObserverFunc[E]) *Subscription[E] {
	id := d.nextID.Add(1)
	d.mu.Lock()
	d.observers[id] = f
	d.mu.Unlock()
	return &Subscription[E]{d: d, id: id}
}

// NotifyAll invokes every current observer with event, removing any that
// return Unsubscribe. Observers added during a NotifyAll call are not
// visited until the next call (iteration is over a snapshot).
func (d *ObserveDispatcher[E]) NotifyAll(event E) {
	d.mu.Lock()
	snapshot := make(map[int64]ObserverFunc[E], len(d.observers))
	for id, f := range d.observers {
		snapshot[id] = f
	}
	d.mu.Unlock()

	var toRemove []int64
	for id, f := range snapshot {
		if f(event) == Unsubscribe {
			toRemove = append(toRemove, id)
		}
	}
	if len(toRemove) == 0 {
		return
	}
	d.mu.Lock()
	for _, id := range toRemove {
		delete(d.observers, id)
	}
	d.mu.Unlock()
}

// Len reports the current observer count, for diagnostics.
func (d *ObserveDispatcher[E]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// Subscription is the RAII-style handle Subscribe returns; Unsubscribe
// must be called exactly once to stop receiving events (it is safe to
// call more than once — only the first call has an effect).
type Subscription[E any] struct {
	d    *ObserveDispatcher[E]
	id   int64
	once sync.Once
}

// Unsubscribe removes the observer this subscription was issued for.
func (s *Subscription[E]) Unsubscribe() {
	s.once.Do(func() {
		s.d.mu.Lock()
		delete(s.d.observers, s.id)
		s.d.mu.Unlock()
	})
}
