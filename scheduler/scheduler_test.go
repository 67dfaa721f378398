package scheduler_test

import (
	"context"
	"testing"

	"github.com/nmxmxh/shine/resources"
	"github.com/nmxmxh/shine/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resA struct{ N int }
type resB struct{ N int }

func mkSystem(name string, claim scheduler.ResourceClaim, run func(r *resources.Resources) (*scheduler.TaskGroup, error)) scheduler.System {
	return scheduler.FuncSystem{
		Debug: name,
		Sys:   scheduler.SystemName(name),
		Named: true,
		Claim: claim,
		RunFn: run,
	}
}

// TestScheduler_ParallelThenSerialized covers spec.md §8 scenario S6: A
// mutates Ra, B mutates Rb, C reads both; the plan must run A and B in
// the same wave and C strictly afterward.
func TestScheduler_ParallelThenSerialized(t *testing.T) {
	r := resources.New()
	resources.RegisterUnmanaged[resA](r)
	resources.RegisterUnmanaged[resB](r)
	resources.InsertGlobal(r, resA{})
	resources.InsertGlobal(r, resB{})

	var order []string
	record := func(name string) func(*resources.Resources) (*scheduler.TaskGroup, error) {
		return func(*resources.Resources) (*scheduler.TaskGroup, error) {
			order = append(order, name)
			return nil, nil
		}
	}

	b := scheduler.NewBuilder()
	b.Add(mkSystem("A", scheduler.ResMut[resA]{}.IntoClaim(), record("A")))
	b.Add(mkSystem("B", scheduler.ResMut[resB]{}.IntoClaim(), record("B")))
	b.Add(mkSystem("C", scheduler.Res[resA]{}.IntoClaim().Merge(scheduler.Res[resB]{}.IntoClaim()), record("C")))

	plan, err := b.Build()
	require.NoError(t, err)
	require.Len(t, plan.Waves, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, namesOf(plan.Waves[0]))
	assert.ElementsMatch(t, []string{"C"}, namesOf(plan.Waves[1]))

	exec := scheduler.NewExecutor(0)
	_, err = exec.Tick(context.Background(), plan, r)
	require.NoError(t, err)
	assert.Equal(t, "C", order[len(order)-1], "C must run after both A and B complete")
}

// TestScheduler_ExplicitAfter verifies explicit after() dependencies are
// respected even with no claim conflict.
func TestScheduler_ExplicitAfter(t *testing.T) {
	noop := func(*resources.Resources) (*scheduler.TaskGroup, error) { return nil, nil }

	b := scheduler.NewBuilder()
	b.Add(mkSystem("first", scheduler.ResourceClaim{}, noop))
	d := b.Add(mkSystem("second", scheduler.ResourceClaim{}, noop))
	d.After("first")

	plan, err := b.Build()
	require.NoError(t, err)
	require.Len(t, plan.Waves, 2)
	assert.Equal(t, []string{"first"}, namesOf(plan.Waves[0]))
	assert.Equal(t, []string{"second"}, namesOf(plan.Waves[1]))
}

// TestScheduler_CyclicDependencyDetected covers the explicit-dependency
// cycle-detection failure mode of spec.md §4.7.
func TestScheduler_CyclicDependencyDetected(t *testing.T) {
	noop := func(*resources.Resources) (*scheduler.TaskGroup, error) { return nil, nil }

	b := scheduler.NewBuilder()
	a := b.Add(mkSystem("a", scheduler.ResourceClaim{}, noop))
	c := b.Add(mkSystem("b", scheduler.ResourceClaim{}, noop))
	a.After("b")
	c.After("a")

	_, err := b.Build()
	require.Error(t, err)
}

// TestScheduler_DeterministicTieBreak verifies two unconflicting,
// unordered systems still produce the same plan shape across repeated
// builds (property 4 "determinism").
func TestScheduler_DeterministicTieBreak(t *testing.T) {
	noop := func(*resources.Resources) (*scheduler.TaskGroup, error) { return nil, nil }
	build := func() []string {
		b := scheduler.NewBuilder()
		b.Add(mkSystem("zeta", scheduler.ResourceClaim{}, noop))
		b.Add(mkSystem("alpha", scheduler.ResourceClaim{}, noop))
		plan, err := b.Build()
		require.NoError(t, err)
		require.Len(t, plan.Waves, 1)
		return namesOf(plan.Waves[0])
	}
	first := build()
	second := build()
	assert.Equal(t, first, second)
}

func namesOf(systems []scheduler.System) []string {
	out := make([]string, len(systems))
	for i, s := range systems {
		out[i] = s.DebugName()
	}
	return out
}
