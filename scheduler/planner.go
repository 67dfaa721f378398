package scheduler

import (
	"fmt"
	"sort"

	"github.com/nmxmxh/shine/internal/telemetry"
)

type node struct {
	sys   System
	name  SystemName
	named bool
	claim ResourceClaim
	index int
	after []SystemName
}

// Builder accumulates systems and their explicit ordering declarations
// before Build() turns them into a Plan.
type Builder struct {
	nodes         []*node
	pendingBefore []beforeDecl
}

// NewBuilder constructs an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Declared is the handle Add returns, letting callers chain After/Before.
type Declared struct {
	n *node
	b *Builder
}

// Add registers sys with the builder in insertion order.
func (b *Builder) Add(sys System) *Declared {
	name, named := sys.Name()
	n := &node{sys: sys, name: name, named: named, claim: sys.Claims(), index: len(b.nodes)}
	b.nodes = append(b.nodes, n)
	return &Declared{n: n, b: b}
}

// After declares that n must run after every named system listed.
func (d *Declared) After(names ...SystemName) *Declared {
	d.n.after = append(d.n.after, names...)
	return d
}

// Before is sugar for "each named system must run after n" (SPEC_FULL.md
// §4 supplement): resolved at Build time as x.After(self) for each x.
func (d *Declared) Before(names ...SystemName) *Declared {
	d.b.pendingBefore = append(d.b.pendingBefore, beforeDecl{from: d.n, targets: names})
	return d
}

type beforeDecl struct {
	from    *node
	targets []SystemName
}

// Plan is the ordered execution schedule produced by Build: a sequence of
// waves, each a set of systems guaranteed conflict-free among themselves
// (spec.md §4.7 properties 1, 2, 4).
type Plan struct {
	Waves [][]System
}

// canonicalLess is the deterministic tie-break of spec.md §4.7 property 4:
// two named systems compare by name, then by insertion index; when exactly
// one side is named, the named one sorts first; two unnamed systems
// compare by insertion index. This resolves the spec's "tie-break by name,
// then by insertion index" for the mixed named/unnamed case the spec text
// leaves unstated: named systems are treated as sorting before unnamed
// ones so a deterministic total order always exists.
func canonicalLess(a, b *node) bool {
	if a.named && b.named && a.name != b.name {
		return a.name < b.name
	}
	if a.named != b.named {
		return a.named
	}
	return a.index < b.index
}

// Build resolves Before sugar, checks the explicit dependency DAG for
// cycles, adds deterministic conflict edges, checks the combined graph for
// cycles, and layers the result into waves via Kahn's algorithm (grounded
// on the teacher's topologicalSort in-degree-map approach).
func (b *Builder) Build() (*Plan, error) {
	for _, bd := range b.pendingBefore {
		for _, target := range bd.targets {
			for _, n := range b.nodes {
				if n.named && n.name == target {
					n.after = append(n.after, mustNameOf(bd.from))
				}
			}
		}
	}

	byName := make(map[SystemName]*node)
	for _, n := range b.nodes {
		if n.named {
			byName[n.name] = n
		}
	}

	explicit := make(map[*node]map[*node]bool)
	for _, n := range b.nodes {
		explicit[n] = make(map[*node]bool)
	}
	for _, n := range b.nodes {
		for _, depName := range n.after {
			dep, ok := byName[depName]
			if !ok {
				continue
			}
			explicit[dep][n] = true // dep -> n (dep must run first)
		}
	}

	if cyc := findCycle(b.nodes, explicit); cyc != nil {
		return nil, telemetry.WrapError(telemetry.ErrCyclicDependency, fmt.Sprintf("cycle among systems: %v", namesOf(cyc)))
	}

	ordered := append([]*node(nil), b.nodes...)
	sort.Slice(ordered, func(i, j int) bool { return canonicalLess(ordered[i], ordered[j]) })

	combined := make(map[*node]map[*node]bool, len(b.nodes))
	for n, succs := range explicit {
		combined[n] = make(map[*node]bool, len(succs))
		for s := range succs {
			combined[n][s] = true
		}
	}
	for i, a := range ordered {
		for _, c := range ordered[i+1:] {
			if !conflicts(a.claim, c.claim) {
				continue
			}
			if explicit[c][a] {
				continue // explicit edge already runs the other direction
			}
			combined[a][c] = true
		}
	}

	if cyc := findCycle(b.nodes, combined); cyc != nil {
		return nil, telemetry.WrapError(telemetry.ErrClaimConflict, fmt.Sprintf("unschedulable claim conflict among systems: %v", namesOf(cyc)))
	}

	return &Plan{Waves: layer(b.nodes, combined)}, nil
}

func mustNameOf(n *node) SystemName {
	if n.named {
		return n.name
	}
	return SystemName(fmt.Sprintf("#%d", n.index))
}

func namesOf(ns []*node) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.sys.DebugName()
	}
	return out
}

// findCycle runs DFS over edges (n -> successor) and returns the cycle's
// nodes if one exists, else nil.
func findCycle(nodes []*node, edges map[*node]map[*node]bool) []*node {
	const (
		white = iota
		gray
		black
	)
	color := make(map[*node]int, len(nodes))
	var stack []*node
	var cycle []*node

	var visit func(n *node) bool
	visit = func(n *node) bool {
		color[n] = gray
		stack = append(stack, n)
		for succ := range edges[n] {
			switch color[succ] {
			case white:
				if visit(succ) {
					return true
				}
			case gray:
				// found the back edge; extract the cycle portion of stack
				for i, s := range stack {
					if s == succ {
						cycle = append([]*node(nil), stack[i:]...)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// layer performs Kahn's algorithm over edges, grouping all simultaneously
// ready nodes into one wave, in canonical order within the wave.
func layer(nodes []*node, edges map[*node]map[*node]bool) [][]System {
	inDegree := make(map[*node]int, len(nodes))
	for _, n := range nodes {
		inDegree[n] = 0
	}
	for _, succs := range edges {
		for s := range succs {
			inDegree[s]++
		}
	}

	remaining := len(nodes)
	var waves [][]System
	for remaining > 0 {
		var ready []*node
		for _, n := range nodes {
			if inDegree[n] == 0 {
				ready = append(ready, n)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return canonicalLess(ready[i], ready[j]) })

		wave := make([]System, len(ready))
		for i, n := range ready {
			wave[i] = n.sys
			inDegree[n] = -1 // mark processed, exclude from future rounds
		}
		waves = append(waves, wave)
		remaining -= len(ready)

		for _, n := range ready {
			for succ := range edges[n] {
				inDegree[succ]--
			}
		}
	}
	return waves
}
