package resources

import (
	"fmt"
	"sync/atomic"
)

// rwToken is the runtime-checked, panic-on-conflict borrow counter of
// spec.md §4.5: "{0 = free, n>0 = n readers, -1 = writer}". Unlike a
// sync.RWMutex, a conflicting acquisition panics immediately instead of
// blocking — violations are programming errors, not runtime conditions
// (spec.md §7 "BorrowConflict ... Fatal").
type rwToken struct {
	state atomic.Int32
}

func (t *rwToken) readLock(typeName string) {
	for {
		cur := t.state.Load()
		if cur < 0 {
			panic(fmt.Sprintf("resource of type %s already borrowed as mutable", typeName))
		}
		if t.state.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

func (t *rwToken) readUnlock() { t.state.Add(-1) }

func (t *rwToken) writeLock(typeName string) {
	if t.state.CompareAndSwap(0, -1) {
		return
	}
	cur := t.state.Load()
	if cur > 0 {
		panic(fmt.Sprintf("resource of type %s already borrowed as immutable", typeName))
	}
	panic(fmt.Sprintf("resource of type %s already borrowed as mutable", typeName))
}

func (t *rwToken) writeUnlock() { t.state.Store(0) }

// resourceCell is the per-id payload slot spec.md §3 calls ResourceCell<T>:
// an optional value, its rw-token, a live-handle count, and a generation
// stamped on every replace/remove so outstanding ResourceHandles can detect
// staleness (spec.md §3 "ResourceHandle ... expire when generation
// advances").
type resourceCell[T any] struct {
	value       *T
	rw          rwToken
	handleCount atomic.Int64
	generation  atomic.Uint64
}

func newResourceCell[T any](value T) *resourceCell[T] {
	c := &resourceCell[T]{value: &value}
	return c
}

func newEmptyResourceCell[T any]() *resourceCell[T] {
	return &resourceCell[T]{}
}

// replace installs a new value and bumps the generation, invalidating every
// outstanding handle for this cell (spec.md §4.5 "insert ... invalidates
// all outstanding handles for that id").
func (c *resourceCell[T]) replace(value T) *T {
	old := c.value
	c.value = &value
	c.generation.Add(1)
	return old
}

// clear removes the value and bumps the generation (spec.md §4.5 "remove
// ... also invalidates handles").
func (c *resourceCell[T]) clear() *T {
	old := c.value
	c.value = nil
	c.generation.Add(1)
	return old
}
