package arena_test

import (
	"testing"

	"github.com/nmxmxh/shine/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocateDeallocate(t *testing.T) {
	a := arena.New[int](4)

	idx, ptr := a.Allocate(42)
	require.Equal(t, 42, *ptr)
	assert.Equal(t, 1, a.Len())

	got := a.Deallocate(idx)
	assert.Equal(t, 42, got)
	assert.True(t, a.IsEmpty())
}

func TestArena_DeallocateUnoccupiedPanics(t *testing.T) {
	a := arena.New[int](1)
	idx, _ := a.Allocate(1)
	a.Deallocate(idx)

	assert.Panics(t, func() {
		a.Deallocate(idx)
	})
}

// TestArena_StableAddresses verifies property 1 from spec.md §8: for any
// sequence of allocate/deallocate with no reuse of deallocated indices,
// every outstanding pointer remains valid and equal to the pointer
// returned at allocation, even across growth.
func TestArena_StableAddresses(t *testing.T) {
	a := arena.New[int](2)

	type outstanding struct {
		idx int
		ptr *int
	}
	var live []outstanding

	for i := 0; i < 500; i++ {
		idx, ptr := a.Allocate(i)
		*ptr = i // confirm write-through
		live = append(live, outstanding{idx, ptr})
	}

	for _, o := range live {
		require.Equal(t, o.idx, o.idx)
		assert.Same(t, o.ptr, a.At(o.idx), "pointer identity must survive growth")
	}
}

func TestArena_FreeListLIFOReuse(t *testing.T) {
	a := arena.New[string](2)

	i1, _ := a.Allocate("a")
	i2, _ := a.Allocate("b")
	a.Deallocate(i2)
	a.Deallocate(i1)

	// LIFO reuse: the most recently freed slot (i1) comes back first.
	next, _ := a.Allocate("c")
	assert.Equal(t, i1, next)
}

func TestArena_Clear(t *testing.T) {
	a := arena.New[int](0)
	for i := 0; i < 10; i++ {
		a.Allocate(i)
	}
	require.Equal(t, 10, a.Len())

	a.Clear()
	assert.True(t, a.IsEmpty())
	assert.Equal(t, 64, a.Cap(), "clear must not release capacity")

	idx, ptr := a.Allocate(99)
	assert.Equal(t, 99, *ptr)
	assert.GreaterOrEqual(t, a.Cap(), idx+1)
}
