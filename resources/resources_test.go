package resources_test

import (
	"testing"

	"github.com/nmxmxh/shine/internal/telemetry"
	"github.com/nmxmxh/shine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOne struct{ Value string }
type testTwo struct{ Value string }
type notSync struct{ Ptr int }

// TestResources_InsertGetRemove covers spec.md §8 scenario S1.
func TestResources_InsertGetRemove(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[testOne](r)
	resources.RegisterUnmanaged[testTwo](r)
	resources.RegisterUnmanaged[notSync](r)

	resources.InsertGlobal(r, testOne{Value: "one"})

	g, err := resources.GetGlobal[testOne](r)
	require.NoError(t, err)
	assert.Equal(t, "one", g.Get().Value)
	g.Release()

	_, err = resources.Get[notSync](r, resources.TagId("ptr"))
	assert.ErrorIs(t, err, telemetry.ErrResourceNotFound)

	resources.InsertGlobal(r, testTwo{Value: "two"})
	old, had := resources.Remove[testTwo](r, resources.GlobalId())
	require.True(t, had)
	assert.Equal(t, "two", old.Value)
}

// TestResources_ReadersBlockWriter covers spec.md §8 scenario S2: two
// reader guards coexist, and a concurrent write attempt panics with a
// type-named diagnostic.
func TestResources_ReadersBlockWriter(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[testOne](r)
	resources.InsertGlobal(r, testOne{Value: "one"})

	g1, err := resources.GetGlobal[testOne](r)
	require.NoError(t, err)
	g2, err := resources.GetGlobal[testOne](r)
	require.NoError(t, err)

	assert.PanicsWithValue(t,
		"resource of type resources_test.testOne already borrowed as immutable",
		func() { _, _ = resources.GetMutGlobal[testOne](r) },
	)

	g1.Release()
	g2.Release()
}

// TestResources_HandleExpiresOnReplace covers property 6: after insert or
// remove, a preexisting handle resolves to ErrResourceExpired.
func TestResources_HandleExpiresOnReplace(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[testOne](r)
	resources.InsertGlobal(r, testOne{Value: "first"})

	h, err := resources.GetHandle[testOne](r, resources.GlobalId())
	require.NoError(t, err)

	g, err := resources.At(h)
	require.NoError(t, err)
	assert.Equal(t, "first", g.Get().Value)
	g.Release()

	resources.InsertGlobal(r, testOne{Value: "second"})

	_, err = resources.At(h)
	assert.ErrorIs(t, err, telemetry.ErrResourceExpired)
}

// TestResources_BuildOnFirstAccess exercises lazy construction (spec.md
// §6 "build(&ResourceId) -> T").
func TestResources_BuildOnFirstAccess(t *testing.T) {
	r := resources.New()
	builds := 0
	resources.Register(r, resources.Config[testOne]{
		Build: func(id resources.ResourceId) testOne {
			builds++
			return testOne{Value: id.String()}
		},
	})

	g, err := resources.Get[testOne](r, resources.TagId("lazy"))
	require.NoError(t, err)
	assert.Equal(t, `Tag("lazy")`, g.Get().Value)
	g.Release()

	g2, err := resources.Get[testOne](r, resources.TagId("lazy"))
	require.NoError(t, err)
	g2.Release()
	assert.Equal(t, 1, builds, "build must run at most once per id")
}

// TestResources_BatchedAccessConsistentLockOrder exercises
// GetWithIds/GetMutWithIds with overlapping id sets requested in opposite
// orders by two goroutines, verifying neither deadlocks.
func TestResources_BatchedAccessConsistentLockOrder(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[testOne](r)
	ids := []resources.ResourceId{resources.TagId("a"), resources.TagId("b"), resources.TagId("c")}
	for _, id := range ids {
		resources.Insert(r, id, testOne{Value: id.String()})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		reversed := []resources.ResourceId{ids[2], ids[1], ids[0]}
		m, err := resources.GetWithIds[testOne](r, reversed)
		require.NoError(t, err)
		defer m.Release()
	}()

	m, err := resources.GetWithIds[testOne](r, ids)
	require.NoError(t, err)
	m.Release()
	<-done
}

// TestResources_Bake exercises AutoGC + PostProcess.
func TestResources_Bake(t *testing.T) {
	r := resources.New()
	var seen []string
	resources.Register(r, resources.Config[testOne]{
		AutoGC: true,
		PostProcess: func(ctx *resources.BakeContext[testOne]) {
			ctx.Each(func(id resources.ResourceId, v *testOne) {
				seen = append(seen, v.Value)
			})
		},
	})

	resources.Insert(r, resources.TagId("kept"), testOne{Value: "kept"})
	h, err := resources.GetHandle[testOne](r, resources.TagId("kept"))
	require.NoError(t, err)
	_ = h
	resources.Insert(r, resources.TagId("gc-me"), testOne{Value: "gc-me"})

	r.Bake()

	assert.Contains(t, seen, "kept")
	assert.NotContains(t, seen, "gc-me", "zero-handle cell must be collected before post-process")
}

func TestResources_TypeNames(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[testOne](r)
	resources.RegisterUnmanaged[testTwo](r)
	assert.ElementsMatch(t, []string{"resources_test.testOne", "resources_test.testTwo"}, r.TypeNames())
}
