// Package scheduler implements spec.md §4.6/§4.7: queries that derive
// resource claims from a system's declared accesses, and a planner that
// orders systems into conflict-free, dependency-respecting waves.
//
// Grounded on the teacher's kernel/threads/intelligence/scheduling/resource.go
// (topological layering of a job DAG via an in-degree map, and a
// deterministic tie-break for otherwise-equal candidates) generalized from
// job/node scheduling to claim-aware system scheduling.
package scheduler

import (
	"reflect"

	"github.com/nmxmxh/shine/resources"
)

// ClaimKey names one (type, id) pair a system's claim may reference —
// spec.md's "(TypeId, ResourceId)".
type ClaimKey struct {
	Type reflect.Type
	Id   resources.ResourceId
}

// ResourceClaim is the read/write set one query (or system) contributes:
// two multisets over ClaimKey (spec.md §3 "A ResourceClaim is two
// multisets ... immutable and mutable"). Duplicate entries are harmless —
// conflict checks only test membership.
type ResourceClaim struct {
	Immutable []ClaimKey
	Mutable   []ClaimKey
}

// Merge combines two claims, as a system's total claim is the union of
// its queries' claims.
func (c ResourceClaim) Merge(other ResourceClaim) ResourceClaim {
	return ResourceClaim{
		Immutable: append(append([]ClaimKey(nil), c.Immutable...), other.Immutable...),
		Mutable:   append(append([]ClaimKey(nil), c.Mutable...), other.Mutable...),
	}
}

func claimKeyOf[T any](id resources.ResourceId) ClaimKey {
	var zero T
	return ClaimKey{Type: reflect.TypeOf(zero), Id: id}
}

func keySet(keys []ClaimKey) map[ClaimKey]bool {
	m := make(map[ClaimKey]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// conflicts reports whether a and b may not run concurrently: any overlap
// between a's mutable set and b's mutable-or-immutable set (or vice
// versa) violates spec.md §4.7's exclusivity rule. Tag granularity falls
// out for free here since ClaimKey carries the ResourceId, so
// (T, Tag("a")) and (T, Tag("b")) are simply distinct keys.
func conflicts(a, b ResourceClaim) bool {
	aMut, bMut := keySet(a.Mutable), keySet(b.Mutable)
	aImm, bImm := keySet(a.Immutable), keySet(b.Immutable)
	for k := range aMut {
		if bMut[k] || bImm[k] {
			return true
		}
	}
	for k := range bMut {
		if aImm[k] {
			return true
		}
	}
	return false
}
