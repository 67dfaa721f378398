package observer

import (
	"sync"

	"github.com/nmxmxh/shine/store"
)

// DependencyState is one state of the Dependency state machine (spec.md
// §4.8 "None -> Incomplete -> Pending(Index, Subscription?) ->
// {Completed | Error}").
type DependencyState uint8

const (
	StateNone DependencyState = iota
	StateIncomplete
	StatePending
	StateCompleted
	StateErrored
)

func (s DependencyState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateIncomplete:
		return "Incomplete"
	case StatePending:
		return "Pending"
	case StateCompleted:
		return "Completed"
	case StateErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// ReadinessFunc reports whether value is ready for use, and any terminal
// error observed while loading it. Go has no equivalent of a trait-bound
// OnLoad status enum on D, so readiness is supplied as a function instead
// of derived from D's type.
type ReadinessFunc[D any] func(value *D) (ready bool, err error)

// Dependency resolves one keyed reference into another Store's entry,
// optionally subscribing to a completion event while the load is in
// flight (spec.md §4.8 "a typical on_load_response pattern: ... subscribe
// to a sub-resource's completion event").
type Dependency[K comparable, D any] struct {
	mu    sync.Mutex
	state DependencyState
	idx   store.Index[D]
	sub   *Subscription[struct{}]
	err   error
	ready ReadinessFunc[D]
}

// NewDependency constructs a Dependency in the Incomplete state, ready
// for its first Request call.
func NewDependency[K comparable, D any](ready ReadinessFunc[D]) *Dependency[K, D] {
	return &Dependency[K, D]{state: StateIncomplete, ready: ready}
}

// State returns the dependency's current state.
func (d *Dependency[K, D]) State() DependencyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Index returns the resolved Index once Completed; ok is false in every
// other state. The caller does not own a new reference — it must not
// call Release on the returned Index without first Clone-ing it.
func (d *Dependency[K, D]) Index() (store.Index[D], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateCompleted {
		var zero store.Index[D]
		return zero, false
	}
	return d.idx, true
}

// Err returns the terminal load error once Errored, else nil.
func (d *Dependency[K, D]) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Request advances the state machine (spec.md §4.8 "request(store,
// subscribe_fn) advances"):
//   - From Incomplete: resolves key via g.GetOrLoad, installs subscribe's
//     returned Subscription (if subscribe is non-nil), transitions to
//     Pending, and immediately polls readiness in case the entry was
//     already loaded by an earlier caller.
//   - From Pending: re-polls readiness.
//   - From None/Completed/Errored: no-op — terminal states (and the
//     unresolved None state) are idempotent under Request.
func (d *Dependency[K, D]) Request(
	g *store.ReadGuard[K, D],
	key store.EntityKey[K],
	subscribe func() *Subscription[struct{}],
) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateIncomplete:
		d.idx = g.GetOrLoad(key)
		if subscribe != nil {
			d.sub = subscribe()
		}
		d.state = StatePending
		d.pollLocked(g)
	case StatePending:
		d.pollLocked(g)
	default:
		// None (never requested) and terminal states: idempotent.
	}
}

func (d *Dependency[K, D]) pollLocked(g *store.ReadGuard[K, D]) {
	value := g.At(d.idx)
	ready, err := d.ready(value)
	if err != nil {
		d.state = StateErrored
		d.err = err
		if d.sub != nil {
			d.sub.Unsubscribe()
		}
		return
	}
	if ready {
		d.state = StateCompleted
		if d.sub != nil {
			d.sub.Unsubscribe()
		}
	}
}

// Reset returns a Completed or Errored dependency to Incomplete so a
// caller can retry a failed load (SPEC_FULL.md §4 supplement: the
// original's state machine permits this transition and spec.md's state
// diagram only requires terminal states to be idempotent under request,
// not unresettable).
func (d *Dependency[K, D]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateCompleted && d.state != StateErrored {
		return
	}
	if d.idx.Valid() {
		d.idx.Release()
	}
	var zero store.Index[D]
	d.idx = zero
	d.err = nil
	d.sub = nil
	d.state = StateIncomplete
}
