package store

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nmxmxh/shine/arena"
	"github.com/nmxmxh/shine/internal/telemetry"
)

// loadHandler is the non-generic bridge a Store talks to when a load
// pipeline is installed. AsyncLoader[K,D,Req,Resp] (asyncloader.go)
// implements this for a concrete Req/Resp pair, keeping Store itself
// parameterized only by K and D.
type loadHandler[K comparable, D any] interface {
	// dispatch is invoked immediately after a fresh entry is inserted
	// into the transient map, exactly once per entry (spec.md §4.3
	// "Trigger load").
	dispatch(tok LoadToken[K], value *D)
	// drain applies any responses that have arrived since the last call,
	// locating their target entry through the store's lookup, and
	// returns once the response channel is empty (never blocks).
	drain(s *Store[K, D])
}

// Store is the keyed, reference-counted resource container of spec.md
// §4.3. D is the stored value type; K is its key type. A Store with no
// loader installed behaves as a plain memoizing cache; AsyncLoader.Attach
// installs a loader to back GetOrLoad.
type Store[K comparable, D any] struct {
	arena *arena.Arena[entry[D]]

	mu            sync.RWMutex // shared-map guard: RLock for ReadGuard, Lock for WriteGuard
	shared        map[K]int
	sharedUnnamed map[uint64]int

	transientMu       sync.Mutex // structural-write guard, independent of mu
	transient         map[K]int
	transientUnnamed  map[uint64]int
	nextUnnamed       atomic.Uint64

	buildFn func(EntityKey[K]) D
	handler loadHandler[K, D]

	// drainFilter records the Unnamed ids removed by drain. It is only
	// ever added to: no lookup or drain decision tests it, so removals
	// rest entirely on the ref-count check.
	drainFilter *bloom.BloomFilter

	logger *telemetry.Logger
}

// New constructs a Store with no build function and no load pipeline;
// TryGet and Add are usable immediately, GetOrAdd and GetOrLoad will
// panic until a build function or loader is installed.
func New[K comparable, D any](pageSize int) *Store[K, D] {
	if pageSize <= 0 {
		pageSize = 64
	}
	return &Store[K, D]{
		arena:            arena.New[entry[D]](pageSize),
		shared:           make(map[K]int),
		sharedUnnamed:    make(map[uint64]int),
		transient:        make(map[K]int),
		transientUnnamed: make(map[uint64]int),
		drainFilter:      bloom.NewWithEstimates(10_000, 0.01),
		logger:           telemetry.NewDefault("store"),
	}
}

// NewWithBuild constructs a Store whose GetOrAdd builds missing entries
// with build (spec.md's `D: FromKey`).
func NewWithBuild[K comparable, D any](pageSize int, build func(EntityKey[K]) D) *Store[K, D] {
	s := New[K, D](pageSize)
	s.buildFn = build
	return s
}

// attachHandler installs the load pipeline bridge; called by AsyncLoader's
// Attach helper so Store itself need not know about Req/Resp types.
func (s *Store[K, D]) attachHandler(h loadHandler[K, D]) {
	s.handler = h
}

// --- lookup helpers (unexported, called under the appropriate lock) ---

func (s *Store[K, D]) lookupShared(key EntityKey[K]) (int, bool) {
	if key.Kind == KindNamed {
		idx, ok := s.shared[key.Named]
		return idx, ok
	}
	idx, ok := s.sharedUnnamed[key.Unnamed]
	return idx, ok
}

func (s *Store[K, D]) lookupTransient(key EntityKey[K]) (int, bool) {
	if key.Kind == KindNamed {
		idx, ok := s.transient[key.Named]
		return idx, ok
	}
	idx, ok := s.transientUnnamed[key.Unnamed]
	return idx, ok
}

func (s *Store[K, D]) insertTransient(key EntityKey[K], idx int) {
	if key.Kind == KindNamed {
		s.transient[key.Named] = idx
	} else {
		s.transientUnnamed[key.Unnamed] = idx
	}
}

// entryAt returns the arena entry for an index already known to be valid.
func (s *Store[K, D]) entryAt(idx int) *entry[D] {
	return s.arena.At(idx)
}

// --- guards ---

// ReadGuard provides shared access to the store: many ReadGuards, or
// concurrent readers within one, may be held at once, but no WriteGuard
// may be held concurrently with any ReadGuard.
type ReadGuard[K comparable, D any] struct {
	s *Store[K, D]
}

// TryRead acquires shared access to the store.
func (s *Store[K, D]) TryRead() *ReadGuard[K, D] {
	s.mu.RLock()
	return &ReadGuard[K, D]{s: s}
}

// Release releases the shared lock. Must be called exactly once.
func (g *ReadGuard[K, D]) Release() { g.s.mu.RUnlock() }

// TryGet returns the entry for key if it is already present in the shared
// or the transient map, without creating or loading it.
func (g *ReadGuard[K, D]) TryGet(key EntityKey[K]) (Index[D], bool) {
	return g.s.tryGet(key)
}

// GetOrAdd returns the entry for key, building it via the store's build
// function if absent. Panics if no build function was installed.
func (g *ReadGuard[K, D]) GetOrAdd(key EntityKey[K]) Index[D] {
	return g.s.getOrAdd(key)
}

// GetOrLoad returns the entry for key, triggering an async load if
// absent. Panics if no loader was installed.
func (g *ReadGuard[K, D]) GetOrLoad(key EntityKey[K]) Index[D] {
	return g.s.getOrLoad(key)
}

// At dereferences idx. The caller must hold a guard (this one) for the
// duration of the returned pointer's use.
func (g *ReadGuard[K, D]) At(idx Index[D]) *D { return &idx.e.value }

// WriteGuard provides exclusive access, required for structural mutation:
// Add, drain, and finalize.
type WriteGuard[K comparable, D any] struct {
	s *Store[K, D]
}

// TryWrite acquires exclusive access to the store.
func (s *Store[K, D]) TryWrite() *WriteGuard[K, D] {
	s.mu.Lock()
	return &WriteGuard[K, D]{s: s}
}

// Release releases the exclusive lock. Must be called exactly once.
func (g *WriteGuard[K, D]) Release() { g.s.mu.Unlock() }

func (g *WriteGuard[K, D]) TryGet(key EntityKey[K]) (Index[D], bool) { return g.s.tryGet(key) }
func (g *WriteGuard[K, D]) GetOrAdd(key EntityKey[K]) Index[D]       { return g.s.getOrAdd(key) }
func (g *WriteGuard[K, D]) GetOrLoad(key EntityKey[K]) Index[D]      { return g.s.getOrLoad(key) }
func (g *WriteGuard[K, D]) At(idx Index[D]) *D                       { return &idx.e.value }
func (g *WriteGuard[K, D]) AtMut(idx Index[D]) *D                    { return &idx.e.value }

// Add inserts value under a fresh Unnamed key and returns its Index.
func (g *WriteGuard[K, D]) Add(value D) Index[D] {
	return g.s.add(value)
}

// FinalizeRequests moves every transient entry into the shared map.
func (g *WriteGuard[K, D]) FinalizeRequests() {
	g.s.finalizeRequests()
}

// LoadAndFinalizeRequests drains any pending load responses (applying
// them to their target entries) and then finalizes, matching spec.md
// §4.3's `load_and_finalize_requests(ctx)`. ctx is not used: it is not
// passed to the installed loader or its response-application callback.
func (g *WriteGuard[K, D]) LoadAndFinalizeRequests(ctx any) {
	if g.s.handler != nil {
		g.s.handler.drain(g.s)
	}
	g.s.finalizeRequests()
}

// DrainUnused removes entries with zero references, preserving Named
// entries by default.
func (g *WriteGuard[K, D]) DrainUnused() {
	g.s.drain(func(EntityKey[K], *D) bool { return false })
}

// DrainUnusedIf removes entries with zero references for which pred
// returns true (Named entries are otherwise preserved).
func (g *WriteGuard[K, D]) DrainUnusedIf(pred func(EntityKey[K], *D) bool) {
	g.s.drain(pred)
}

// --- shared implementation behind the guards ---

func (s *Store[K, D]) tryGet(key EntityKey[K]) (Index[D], bool) {
	if idx, ok := s.lookupShared(key); ok {
		return newIndex(s.entryAt(idx)), true
	}
	s.transientMu.Lock()
	defer s.transientMu.Unlock()
	if idx, ok := s.lookupTransient(key); ok {
		return newIndex(s.entryAt(idx)), true
	}
	var zero Index[D]
	return zero, false
}

// getOrAdd implements the cache-stampede guarantee: build runs at most
// once per key even under concurrent callers, by rechecking the transient
// map under transientMu before building (spec.md §4.3 "Create").
func (s *Store[K, D]) getOrAdd(key EntityKey[K]) Index[D] {
	if s.buildFn == nil {
		panic("store: GetOrAdd called with no build function installed")
	}
	if idx, ok := s.lookupShared(key); ok {
		return newIndex(s.entryAt(idx))
	}

	s.transientMu.Lock()
	defer s.transientMu.Unlock()
	if idx, ok := s.lookupTransient(key); ok {
		return newIndex(s.entryAt(idx))
	}

	value := s.buildFn(key)
	arenaIdx, ptr := s.arena.Allocate(entry[D]{value: value, tok: &cancelToken{}})
	s.insertTransient(key, arenaIdx)
	return newIndex(ptr)
}

// getOrLoad is GetOrAdd's load-triggering sibling: on a miss it creates a
// zero-value entry and immediately dispatches a load request for it.
func (s *Store[K, D]) getOrLoad(key EntityKey[K]) Index[D] {
	if s.handler == nil {
		panic("store: GetOrLoad called with no loader installed")
	}
	if idx, ok := s.lookupShared(key); ok {
		return newIndex(s.entryAt(idx))
	}

	s.transientMu.Lock()
	defer s.transientMu.Unlock()
	if idx, ok := s.lookupTransient(key); ok {
		return newIndex(s.entryAt(idx))
	}

	var zero D
	tok := &cancelToken{}
	arenaIdx, ptr := s.arena.Allocate(entry[D]{value: zero, tok: tok})
	s.insertTransient(key, arenaIdx)

	// Unnamed keys have no K value to round-trip through LoadToken.Key();
	// loaders that GetOrLoad by Unnamed key must track entry identity
	// through the token's own pointer identity instead of its (zero) Key.
	loadKey := key.Named
	loadTok := LoadToken[K]{key: loadKey, tok: tok}
	s.handler.dispatch(loadTok, &ptr.value)
	return newIndex(ptr)
}

// add inserts value under a fresh Unnamed key.
func (s *Store[K, D]) add(value D) Index[D] {
	id := s.nextUnnamed.Add(1)
	arenaIdx, ptr := s.arena.Allocate(entry[D]{value: value, tok: &cancelToken{}})
	s.transientMu.Lock()
	s.transientUnnamed[id] = arenaIdx
	s.transientMu.Unlock()
	return newIndex(ptr)
}

func (s *Store[K, D]) finalizeRequests() {
	s.transientMu.Lock()
	defer s.transientMu.Unlock()
	for k, idx := range s.transient {
		s.shared[k] = idx
		delete(s.transient, k)
	}
	for k, idx := range s.transientUnnamed {
		s.sharedUnnamed[k] = idx
		delete(s.transientUnnamed, k)
	}
}

// drain removes every zero-reference entry that is Unnamed, or Named and
// approved by pred.
func (s *Store[K, D]) drain(pred func(EntityKey[K], *D) bool) {
	s.transientMu.Lock()
	defer s.transientMu.Unlock()

	removeNamed := func(m map[K]int) {
		for k, idx := range m {
			e := s.entryAt(idx)
			if e.refCount.Load() != 0 {
				continue
			}
			if !pred(Named(k), &e.value) {
				continue
			}
			e.tok.canceled.Store(true)
			s.arena.Deallocate(idx)
			delete(m, k)
		}
	}
	removeUnnamed := func(m map[uint64]int) {
		for id, idx := range m {
			e := s.entryAt(idx)
			if e.refCount.Load() != 0 {
				continue
			}
			e.tok.canceled.Store(true)
			s.arena.Deallocate(idx)
			delete(m, id)
			s.drainFilter.Add(uint64ToBytes(id))
		}
	}

	removeNamed(s.shared)
	removeNamed(s.transient)
	removeUnnamed(s.sharedUnnamed)
	removeUnnamed(s.transientUnnamed)
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// Stats is a debug snapshot of store occupancy, supplementing spec.md
// with the original Rust implementation's debug counters (SPEC_FULL.md §4).
type Stats struct {
	Shared    int
	Transient int
	Arena     int
}

// Stats returns a point-in-time snapshot of the store's occupancy.
func (s *Store[K, D]) Stats() Stats {
	s.transientMu.Lock()
	defer s.transientMu.Unlock()
	return Stats{
		Shared:    len(s.shared) + len(s.sharedUnnamed),
		Transient: len(s.transient) + len(s.transientUnnamed),
		Arena:     s.arena.Len(),
	}
}
