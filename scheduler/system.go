package scheduler

import "github.com/nmxmxh/shine/resources"

// SystemName is a short symbol a system may register itself under so
// other systems can declare explicit ordering against it (spec.md §3
// "SystemName: a short symbol").
type SystemName string

// System is one unit of scheduled work (spec.md §3/§6 "System trait").
// Implementors derive Claims from their own Query values, combining the
// claims of several queries with ResourceClaim.Merge.
type System interface {
	DebugName() string
	Name() (SystemName, bool)
	Claims() ResourceClaim
	Run(r *resources.Resources) (*TaskGroup, error)
}

// TaskGroup is a set of systems a Run call wants spawned into the next
// tick; an empty group means nothing further is requested (spec.md
// §4.7 "Execution contract").
type TaskGroup struct {
	Systems []System
}

// NewTaskGroup constructs a TaskGroup from the given systems.
func NewTaskGroup(systems ...System) *TaskGroup {
	return &TaskGroup{Systems: systems}
}

// Empty reports whether g requests no further work.
func (g *TaskGroup) Empty() bool { return g == nil || len(g.Systems) == 0 }

// FuncSystem adapts a plain function plus a precomputed claim into a
// System, for callers who don't want to hand-write the interface for
// every system (the "hand-written impl System is equally valid" escape
// hatch of spec.md §6, made slightly less tedious).
type FuncSystem struct {
	Debug string
	Sys   SystemName
	Named bool
	Claim ResourceClaim
	RunFn func(r *resources.Resources) (*TaskGroup, error)
}

func (f FuncSystem) DebugName() string                              { return f.Debug }
func (f FuncSystem) Name() (SystemName, bool)                       { return f.Sys, f.Named }
func (f FuncSystem) Claims() ResourceClaim                          { return f.Claim }
func (f FuncSystem) Run(r *resources.Resources) (*TaskGroup, error) { return f.RunFn(r) }
