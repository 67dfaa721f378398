package store_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nmxmxh/shine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testData struct {
	ID int
}

// TestStore_SingleConstruction verifies property 2 from spec.md §8: for
// any key and any interleaving of concurrent GetOrAdd calls, the builder
// runs exactly once and every returned Index aliases the same entry.
func TestStore_SingleConstruction(t *testing.T) {
	var builds atomic.Int64
	s := store.NewWithBuild(2, func(k store.EntityKey[int]) testData {
		builds.Add(1)
		return testData{ID: k.Named}
	})

	const n = 64
	indexes := make([]store.Index[testData], n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			g := s.TryRead()
			defer g.Release()
			indexes[i] = g.GetOrAdd(store.Named(1))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), builds.Load(), "build must run exactly once")

	w := s.TryWrite()
	w.FinalizeRequests()
	first := w.At(indexes[0])
	for _, idx := range indexes[1:] {
		assert.Same(t, first, w.At(idx), "all indexes must alias the same entry")
	}
	w.Release()

	for _, idx := range indexes {
		idx.Release()
	}
}

// TestStore_RefCountAndDrain verifies property 3: live index count equals
// ref_count, and after all indexes drop, drain removes unnamed entries.
func TestStore_RefCountAndDrain(t *testing.T) {
	s := store.New[int, testData](2)

	w := s.TryWrite()
	idx := w.Add(testData{ID: 7})
	assert.Equal(t, int64(1), idx.RefCount())

	clone := idx.Clone()
	assert.Equal(t, int64(2), idx.RefCount())

	w.FinalizeRequests()
	w.DrainUnused()
	assert.Equal(t, 1, s.Stats().Shared+s.Stats().Transient, "entry with live refs must survive drain")

	clone.Release()
	idx.Release()
	w.DrainUnused()
	assert.Equal(t, 0, s.Stats().Shared+s.Stats().Transient)
	w.Release()
}

// TestStore_NamedPreservedUnnamedDrained verifies the default drain
// predicate preserves Named entries but removes Unnamed ones once
// unreferenced.
func TestStore_NamedPreservedUnnamedDrained(t *testing.T) {
	s := store.NewWithBuild(2, func(k store.EntityKey[string]) testData { return testData{} })

	w := s.TryWrite()
	named := w.GetOrAdd(store.Named("alpha"))
	unnamed := w.Add(testData{})
	w.FinalizeRequests()

	named.Release()
	unnamed.Release()
	w.DrainUnused()

	stats := s.Stats()
	assert.Equal(t, 1, stats.Shared+stats.Transient, "named survives, unnamed is drained")
	w.Release()

	r := s.TryRead()
	_, ok := r.TryGet(store.Named("alpha"))
	assert.True(t, ok)
	r.Release()
}

func TestStore_ConcurrentDistinctKeys(t *testing.T) {
	s := store.NewWithBuild(2, func(k store.EntityKey[int]) testData { return testData{ID: k.Named} })

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			g := s.TryRead()
			defer g.Release()
			idx := g.GetOrAdd(store.Named(i))
			require.Equal(t, i, g.At(idx).ID)
			idx.Release()
		}(i)
	}
	wg.Wait()
}
