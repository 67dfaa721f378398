package resources

import (
	"reflect"
	"sync"

	"github.com/nmxmxh/shine/internal/telemetry"
)

// erasedStore is the non-generic face every typedStore[T] presents to
// Resources' TypeId-keyed registry, mirroring store.go's loadHandler
// bridge pattern: one generic implementation, one narrow interface that
// lets the owning container avoid carrying T itself.
type erasedStore interface {
	typeNameOf() string
	bake()
}

// Resources is the heterogeneous registry of spec.md §4.5: a TypeId ->
// ResourceStoreCell map, each cell holding a ResourceStore<T> of
// ResourceId-keyed values under runtime-checked borrow discipline.
//
// Resources is not safe for concurrent registration from multiple
// goroutines (register is a one-time setup step per spec.md §4.5
// "Registration is mandatory before insertion"); per-type borrowing after
// registration is safe via each cell's own rwToken. SyncResources below is
// the separately-exposed façade for types additionally safe to share
// across goroutines at the Go type-system level.
type Resources struct {
	mu    sync.RWMutex
	types map[reflect.Type]erasedStore

	logger *telemetry.Logger
}

// New constructs an empty Resources registry.
func New() *Resources {
	return &Resources{
		types:  make(map[reflect.Type]erasedStore),
		logger: telemetry.NewDefault("resources"),
	}
}

func typeKeyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register installs a typed store for T with the given configuration.
// Registration is mandatory before Insert/Get/etc. are valid for T.
func Register[T any](r *Resources, cfg Config[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeKeyOf[T]()] = newTypedStore(cfg)
}

// RegisterUnmanaged installs a typed store for T with no build/post-process
// configuration — values must be inserted explicitly.
func RegisterUnmanaged[T any](r *Resources) {
	Register(r, Config[T]{})
}

func getTypedStore[T any](r *Resources) (*typedStore[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	erased, ok := r.types[typeKeyOf[T]()]
	if !ok {
		return nil, telemetry.ErrResourceTypeNotFound
	}
	// Safe: erased was constructed by newTypedStore[T] under the same key.
	return erased.(*typedStore[T]), nil
}

// TypeNames enumerates registered types for diagnostics (SPEC_FULL.md §4
// supplement, mirroring the original's debug Display impls).
func (r *Resources) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for _, s := range r.types {
		names = append(names, s.typeNameOf())
	}
	return names
}

// Bake runs every registered type's bake lifecycle: AutoGC sweep (if
// configured) then PostProcess, in registration-map iteration order
// (spec.md §4.5 "bake(gc) promotes transient entries... then runs
// post-process").
func (r *Resources) Bake() {
	r.mu.RLock()
	stores := make([]erasedStore, 0, len(r.types))
	for _, s := range r.types {
		stores = append(stores, s)
	}
	r.mu.RUnlock()
	for _, s := range stores {
		s.bake()
	}
}

// --- Insert / Remove ---

// Insert installs value at id, returning the previous value if one
// existed. Replacing invalidates all outstanding handles for id.
func Insert[T any](r *Resources, id ResourceId, value T) (T, bool) {
	s, err := getTypedStore[T](r)
	if err != nil {
		panic(err)
	}
	return s.insert(id, value)
}

// InsertGlobal is Insert sugar for the Global id, matching Res<T>/ResMut<T>
// queries' implicit target.
func InsertGlobal[T any](r *Resources, value T) (T, bool) {
	return Insert(r, GlobalId(), value)
}

// Remove deletes id's value, returning it if present. Also invalidates
// outstanding handles. Panics (does not wait) if a live borrow is still
// attached to the cell — spec.md's Open Question resolves in favor of the
// panic behavior the source exhibits.
func Remove[T any](r *Resources, id ResourceId) (T, bool) {
	s, err := getTypedStore[T](r)
	if err != nil {
		panic(err)
	}
	return s.remove(id)
}

// --- Guards ---

// ResourceRead is a RAII-style shared borrow of one cell's value. Release
// must be called exactly once.
type ResourceRead[T any] struct {
	cell     *resourceCell[T]
	typeName string
}

func (g ResourceRead[T]) Get() *T  { return g.cell.value }
func (g ResourceRead[T]) Release() { g.cell.rw.readUnlock() }

// ResourceWrite is a RAII-style exclusive borrow of one cell's value.
// Release must be called exactly once.
type ResourceWrite[T any] struct {
	cell     *resourceCell[T]
	typeName string
}

func (g ResourceWrite[T]) Get() *T  { return g.cell.value }
func (g ResourceWrite[T]) Set(v T)  { g.cell.value = &v }
func (g ResourceWrite[T]) Release() { g.cell.rw.writeUnlock() }

func lookupOrBuild[T any](s *typedStore[T], id ResourceId) (*resourceCell[T], error) {
	c, ok := s.lookupCell(id)
	if ok && c.value != nil {
		return c, nil
	}
	if s.cfg.Build == nil {
		if !ok {
			return nil, telemetry.ErrResourceNotFound
		}
		return c, nil
	}
	c = s.getOrCreateCell(id)
	if c.value == nil {
		v := s.cfg.Build(id)
		c.replace(v)
	}
	return c, nil
}

// Get returns a shared guard over id's value, building it lazily if the
// type has a Build configured and the id is absent.
func Get[T any](r *Resources, id ResourceId) (ResourceRead[T], error) {
	s, err := getTypedStore[T](r)
	if err != nil {
		return ResourceRead[T]{}, err
	}
	c, err := lookupOrBuild(s, id)
	if err != nil {
		return ResourceRead[T]{}, err
	}
	c.rw.readLock(s.typeName)
	return ResourceRead[T]{cell: c, typeName: s.typeName}, nil
}

// GetMut returns an exclusive guard over id's value.
func GetMut[T any](r *Resources, id ResourceId) (ResourceWrite[T], error) {
	s, err := getTypedStore[T](r)
	if err != nil {
		return ResourceWrite[T]{}, err
	}
	c, err := lookupOrBuild(s, id)
	if err != nil {
		return ResourceWrite[T]{}, err
	}
	c.rw.writeLock(s.typeName)
	return ResourceWrite[T]{cell: c, typeName: s.typeName}, nil
}

// GetGlobal/GetMutGlobal are Get/GetMut sugar for the Global id.
func GetGlobal[T any](r *Resources) (ResourceRead[T], error)     { return Get[T](r, GlobalId()) }
func GetMutGlobal[T any](r *Resources) (ResourceWrite[T], error) { return GetMut[T](r, GlobalId()) }

// --- Batched multi-id access ---

// ResourceMultiRead is an indexable batch of shared guards, locked in a
// canonical id order rather than the caller's ids order (see sortIDs) to
// make lock order consistent across callers by construction instead of by
// convention.
type ResourceMultiRead[T any] struct {
	cells []*resourceCell[T]
}

func (m ResourceMultiRead[T]) At(i int) *T { return m.cells[i].value }
func (m ResourceMultiRead[T]) Len() int    { return len(m.cells) }
func (m ResourceMultiRead[T]) Release() {
	for _, c := range m.cells {
		c.rw.readUnlock()
	}
}

// ResourceMultiWrite is the exclusive counterpart of ResourceMultiRead.
type ResourceMultiWrite[T any] struct {
	cells []*resourceCell[T]
}

func (m ResourceMultiWrite[T]) At(i int) *T    { return m.cells[i].value }
func (m ResourceMultiWrite[T]) Len() int       { return len(m.cells) }
func (m ResourceMultiWrite[T]) Set(i int, v T) { m.cells[i].value = &v }
func (m ResourceMultiWrite[T]) Release() {
	for _, c := range m.cells {
		c.rw.writeUnlock()
	}
}

// GetWithIds returns shared guards over every id in ids, positionally
// indexable in the order ids was given (the underlying locks are acquired
// in canonical id order internally, independent of argument order).
func GetWithIds[T any](r *Resources, ids []ResourceId) (ResourceMultiRead[T], error) {
	s, err := getTypedStore[T](r)
	if err != nil {
		return ResourceMultiRead[T]{}, err
	}
	byID := s.cellsByID(ids)
	sorted := append([]ResourceId(nil), ids...)
	sortIDs(sorted)
	for _, id := range sorted {
		byID[id].rw.readLock(s.typeName)
	}
	cells := make([]*resourceCell[T], len(ids))
	for i, id := range ids {
		cells[i] = byID[id]
	}
	return ResourceMultiRead[T]{cells: cells}, nil
}

// GetMutWithIds is GetWithIds' exclusive counterpart.
func GetMutWithIds[T any](r *Resources, ids []ResourceId) (ResourceMultiWrite[T], error) {
	s, err := getTypedStore[T](r)
	if err != nil {
		return ResourceMultiWrite[T]{}, err
	}
	byID := s.cellsByID(ids)
	sorted := append([]ResourceId(nil), ids...)
	sortIDs(sorted)
	for _, id := range sorted {
		byID[id].rw.writeLock(s.typeName)
	}
	cells := make([]*resourceCell[T], len(ids))
	for i, id := range ids {
		cells[i] = byID[id]
	}
	return ResourceMultiWrite[T]{cells: cells}, nil
}

// --- Handles ---

// ResourceHandle is a weak reference to a cell plus the generation
// observed at acquisition time; At/AtMut return ErrResourceExpired once
// the cell's generation has advanced past it (spec.md §3 "ResourceHandle").
type ResourceHandle[T any] struct {
	cell       *resourceCell[T]
	generation uint64
	typeName   string
}

// GetHandle returns a handle to id's cell, creating it empty if absent.
func GetHandle[T any](r *Resources, id ResourceId) (ResourceHandle[T], error) {
	s, err := getTypedStore[T](r)
	if err != nil {
		return ResourceHandle[T]{}, err
	}
	c := s.getOrCreateCell(id)
	c.handleCount.Add(1)
	return ResourceHandle[T]{cell: c, generation: c.generation.Load(), typeName: s.typeName}, nil
}

// At returns a shared guard through handle, or ErrResourceExpired if the
// cell has since been replaced or removed.
func At[T any](h ResourceHandle[T]) (ResourceRead[T], error) {
	if h.cell.generation.Load() != h.generation {
		return ResourceRead[T]{}, telemetry.ErrResourceExpired
	}
	h.cell.rw.readLock(h.typeName)
	if h.cell.generation.Load() != h.generation {
		h.cell.rw.readUnlock()
		return ResourceRead[T]{}, telemetry.ErrResourceExpired
	}
	return ResourceRead[T]{cell: h.cell, typeName: h.typeName}, nil
}

// AtMut is At's exclusive counterpart.
func AtMut[T any](h ResourceHandle[T]) (ResourceWrite[T], error) {
	if h.cell.generation.Load() != h.generation {
		return ResourceWrite[T]{}, telemetry.ErrResourceExpired
	}
	h.cell.rw.writeLock(h.typeName)
	if h.cell.generation.Load() != h.generation {
		h.cell.rw.writeUnlock()
		return ResourceWrite[T]{}, telemetry.ErrResourceExpired
	}
	return ResourceWrite[T]{cell: h.cell, typeName: h.typeName}, nil
}

func sortIDs(ids []ResourceId) {
	// insertion sort: id batches are small (one system's claim set), and
	// this avoids importing sort here twice for a slice already built by
	// the caller.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && idLess(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// SyncResources is the façade of spec.md §4.5 that only admits types the
// Go type system itself proves safe to share across goroutines — here,
// simply documented as the caller's obligation, since Go's generics have
// no direct analogue to a `T: Send + Sync` trait bound: SyncResources
// wraps Resources and narrows every entry point to a single type T for
// which the caller supplies a comparable-safe, concurrency-sound value.
type SyncResources[T any] struct {
	r *Resources
}

// NewSyncResources wraps r for safe cross-goroutine use of T, given T has
// already been registered on r.
func NewSyncResources[T any](r *Resources) *SyncResources[T] {
	return &SyncResources[T]{r: r}
}

func (sr *SyncResources[T]) Get(id ResourceId) (ResourceRead[T], error)     { return Get[T](sr.r, id) }
func (sr *SyncResources[T]) GetMut(id ResourceId) (ResourceWrite[T], error) { return GetMut[T](sr.r, id) }
func (sr *SyncResources[T]) Insert(id ResourceId, v T) (T, bool)            { return Insert[T](sr.r, id, v) }
func (sr *SyncResources[T]) Remove(id ResourceId) (T, bool)                 { return Remove[T](sr.r, id) }
