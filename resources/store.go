package resources

import (
	"reflect"
	"sort"
	"sync"
)

// Config configures how a resource type behaves inside Resources
// (spec.md §6 "Resource trait"): lazy construction, a bake-time
// post-process hook, and whether bake should garbage-collect zero-handle
// cells before running it.
type Config[T any] struct {
	// Build lazily constructs a value on first access to an id with no
	// existing cell. Nil means the type has no implicit construction —
	// Insert must be called explicitly (spec.md's register_unmanaged).
	Build func(ResourceId) T
	// PostProcess runs once per bake, after any AutoGC sweep, with the
	// store's structural lock held; the cells' rw-tokens are not taken.
	PostProcess func(*BakeContext[T])
	// AutoGC drops cells with zero outstanding handles before PostProcess
	// runs (spec.md §4.5 "bake(gc)").
	AutoGC bool
}

// typedStore is the generic backing for one registered resource type: a
// mutex-guarded map from ResourceId to *resourceCell[T]. Structural
// changes (insert/remove/bake) take storeMu; borrowing a cell's value
// goes through the cell's own rwToken, independent of storeMu, so reads
// of different ids never contend on the map lock (mirrors Store's
// shared/transient split in store/store.go, collapsed to one map since
// Resources has no async finalize step).
type typedStore[T any] struct {
	storeMu  sync.Mutex
	cells    map[ResourceId]*resourceCell[T]
	cfg      Config[T]
	typeName string
}

func newTypedStore[T any](cfg Config[T]) *typedStore[T] {
	var zero T
	return &typedStore[T]{
		cells:    make(map[ResourceId]*resourceCell[T]),
		cfg:      cfg,
		typeName: reflect.TypeOf(zero).String(),
	}
}

func (s *typedStore[T]) typeNameOf() string { return s.typeName }

func (s *typedStore[T]) getOrCreateCell(id ResourceId) *resourceCell[T] {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if c, ok := s.cells[id]; ok {
		return c
	}
	c := newEmptyResourceCell[T]()
	s.cells[id] = c
	return c
}

func (s *typedStore[T]) lookupCell(id ResourceId) (*resourceCell[T], bool) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	c, ok := s.cells[id]
	return c, ok
}

// insert replaces (or creates) id's value, returning the previous value if
// any (spec.md §4.5 "insert[_with_id](id, value) -> Option<T>").
func (s *typedStore[T]) insert(id ResourceId, value T) (T, bool) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		c = newEmptyResourceCell[T]()
		s.cells[id] = c
	}
	old := c.replace(value)
	if old == nil {
		var zero T
		return zero, false
	}
	return *old, true
}

// remove deletes id's cell contents, returning the previous value if any.
// The cell entry itself is kept (so outstanding handles still resolve to a
// "known but empty" cell rather than a dangling one) but its generation
// advances, per spec.md's "remove ... also invalidates handles" and the
// Open Question resolution to panic rather than wait on live borrows: the
// rw-token below will panic here if a reader/writer is still attached.
func (s *typedStore[T]) remove(id ResourceId) (T, bool) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		var zero T
		return zero, false
	}
	c.rw.writeLock(s.typeName)
	defer c.rw.writeUnlock()
	old := c.clear()
	if old == nil {
		var zero T
		return zero, false
	}
	return *old, true
}

// cellsByID resolves (creating if absent) a cell for every id in ids,
// returning them keyed by id so callers can separately decide lock order —
// see sortIDs, used by GetWithIds/GetMutWithIds to lock in canonical id
// order rather than the caller's iteration order, so concurrent batched
// fetches over overlapping id sets can never deadlock regardless of the
// order callers happened to list them in.
func (s *typedStore[T]) cellsByID(ids []ResourceId) map[ResourceId]*resourceCell[T] {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	out := make(map[ResourceId]*resourceCell[T], len(ids))
	for _, id := range ids {
		c, ok := s.cells[id]
		if !ok {
			c = newEmptyResourceCell[T]()
			s.cells[id] = c
		}
		out[id] = c
	}
	return out
}

func idLess(a, b ResourceId) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	switch a.kind {
	case KindTag:
		return a.tag < b.tag
	case KindObject:
		return a.object < b.object
	default:
		return false
	}
}

// bake implements the erasedStore interface: promote-and-gc-and-post-process
// lifecycle step of spec.md §4.5.
func (s *typedStore[T]) bake() {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	if s.cfg.AutoGC {
		for id, c := range s.cells {
			if c.handleCount.Load() == 0 && id.kind != KindGlobal {
				delete(s.cells, id)
			}
		}
	}
	if s.cfg.PostProcess == nil {
		return
	}
	ctx := &BakeContext[T]{store: s}
	s.cfg.PostProcess(ctx)
}

// BakeContext is handed to a resource type's PostProcess callback, with
// the store's structural lock already held (spec.md §4.5 "post_process
// ... may iterate handles and update cells under a write lock").
type BakeContext[T any] struct {
	store *typedStore[T]
}

// Each invokes fn for every live cell's value, in id order.
func (ctx *BakeContext[T]) Each(fn func(id ResourceId, value *T)) {
	ids := make([]ResourceId, 0, len(ctx.store.cells))
	for id := range ctx.store.cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	for _, id := range ids {
		c := ctx.store.cells[id]
		if c.value != nil {
			fn(id, c.value)
		}
	}
}
