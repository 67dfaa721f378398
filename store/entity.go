// Package store implements the keyed, reference-counted resource
// container of spec.md §3/§4.3: a Store[K, D] holding at most one live
// entry per key across a shared (RW-locked) map and a transient
// (mutex-locked) staging map, backed by an arena for stable addresses, with
// an optional async load pipeline (asyncloader.go).
//
// Grounded on the teacher's kernel/threads/registry/loader.go (a
// mutex-guarded map from key to slot, built once under a lock) and
// kernel/threads/pattern/subscriber.go (the RWMutex-guarded subscription
// map pattern reused here for the shared/transient split).
package store

import "sync/atomic"

// EntityKeyKind distinguishes a Named key (collides on equal values) from
// an Unnamed one (never collides, monotonic per store).
type EntityKeyKind uint8

const (
	KindNamed EntityKeyKind = iota
	KindUnnamed
)

// EntityKey is the tagged union spec.md §3 calls EntityKey<D>: either a
// caller-supplied Named key or a store-assigned Unnamed id.
type EntityKey[K comparable] struct {
	Kind    EntityKeyKind
	Named   K
	Unnamed uint64
}

// Named constructs a Named entity key.
func Named[K comparable](key K) EntityKey[K] {
	return EntityKey[K]{Kind: KindNamed, Named: key}
}

// cancelToken is the shared cancellation flag an entry's LoadTokens weakly
// reference. It becomes true when drain removes the owning entry; nothing
// else sets it, and there is no operation that restarts an entry's load.
type cancelToken struct {
	canceled atomic.Bool
}

// LoadToken is a cancellation-aware handle carried alongside every load
// request and response (spec.md §3 "LoadToken<D>"). Holding a LoadToken
// does not keep its entry alive; IsCanceled reports whether the entry has
// since been removed by drain.
type LoadToken[K comparable] struct {
	key K
	tok *cancelToken
}

// Key returns the entity key this token was issued for.
func (t LoadToken[K]) Key() K { return t.key }

// IsCanceled reports whether the entry backing this token has been
// deallocated since the token was issued (or the token is unbound).
func (t LoadToken[K]) IsCanceled() bool {
	if t.tok == nil {
		return true
	}
	return t.tok.canceled.Load()
}

// entry is the slab payload: {value, ref_count, load_token} per spec.md §3.
type entry[D any] struct {
	value    D
	refCount atomic.Int64
	tok      *cancelToken
}

// Index is an opaque, reference-counted handle into a Store, dereferenced
// only through a ReadGuard or WriteGuard (spec.md §3 "Index<D>").
// Constructing an Index increments the entry's ref count; Release
// decrements it. Index values may be freely copied/cloned — each clone
// must be released exactly once, mirroring the reference-counted-handle
// discipline the original Rust Index's Drop impl enforced automatically.
type Index[D any] struct {
	e *entry[D]
}

func newIndex[D any](e *entry[D]) Index[D] {
	e.refCount.Add(1)
	return Index[D]{e: e}
}

// Clone returns a new Index aliasing the same entry, incrementing its
// reference count.
func (i Index[D]) Clone() Index[D] {
	i.e.refCount.Add(1)
	return Index[D]{e: i.e}
}

// Release decrements the entry's reference count. Every Index obtained
// from the store (including clones) must be released exactly once.
func (i Index[D]) Release() {
	i.e.refCount.Add(-1)
}

// RefCount returns the entry's current reference count. Intended for
// diagnostics and tests, not for synchronization decisions.
func (i Index[D]) RefCount() int64 {
	return i.e.refCount.Load()
}

// Valid reports whether this Index was ever bound to an entry.
func (i Index[D]) Valid() bool {
	return i.e != nil
}
