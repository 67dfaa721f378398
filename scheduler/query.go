package scheduler

import (
	"github.com/nmxmxh/shine/resources"
)

// Query is a value constructed from a system's declared resource
// accesses; IntoClaim reports the read/write set it contributes
// (spec.md §4.6).
type Query interface {
	IntoClaim() ResourceClaim
}

// Res is a shared borrow of the Global instance of T.
type Res[T any] struct{}

func (Res[T]) IntoClaim() ResourceClaim {
	return ResourceClaim{Immutable: []ClaimKey{claimKeyOf[T](resources.GlobalId())}}
}

// Fetch produces the borrowed view and its release function.
func (Res[T]) Fetch(r *resources.Resources) (*T, func(), error) {
	g, err := resources.GetGlobal[T](r)
	if err != nil {
		return nil, nil, err
	}
	return g.Get(), g.Release, nil
}

// ResMut is a unique borrow of the Global instance of T.
type ResMut[T any] struct{}

func (ResMut[T]) IntoClaim() ResourceClaim {
	return ResourceClaim{Mutable: []ClaimKey{claimKeyOf[T](resources.GlobalId())}}
}

func (ResMut[T]) Fetch(r *resources.Resources) (*T, func(), error) {
	g, err := resources.GetMutGlobal[T](r)
	if err != nil {
		return nil, nil, err
	}
	return g.Get(), g.Release, nil
}

// MultiRes is a shared borrow of many instances of T by id. Ids are
// carried as data, not type, so the tag set is configurable per system
// instance (spec.md §4.6 "Queries carry their id list as data").
type MultiRes[T any] struct {
	Ids []resources.ResourceId
}

func (q MultiRes[T]) IntoClaim() ResourceClaim {
	keys := make([]ClaimKey, len(q.Ids))
	for i, id := range q.Ids {
		keys[i] = claimKeyOf[T](id)
	}
	return ResourceClaim{Immutable: keys}
}

func (q MultiRes[T]) Fetch(r *resources.Resources) (resources.ResourceMultiRead[T], func(), error) {
	m, err := resources.GetWithIds[T](r, q.Ids)
	if err != nil {
		return resources.ResourceMultiRead[T]{}, nil, err
	}
	return m, m.Release, nil
}

// MultiResMut is MultiRes's exclusive counterpart.
type MultiResMut[T any] struct {
	Ids []resources.ResourceId
}

func (q MultiResMut[T]) IntoClaim() ResourceClaim {
	keys := make([]ClaimKey, len(q.Ids))
	for i, id := range q.Ids {
		keys[i] = claimKeyOf[T](id)
	}
	return ResourceClaim{Mutable: keys}
}

func (q MultiResMut[T]) Fetch(r *resources.Resources) (resources.ResourceMultiWrite[T], func(), error) {
	m, err := resources.GetMutWithIds[T](r, q.Ids)
	if err != nil {
		return resources.ResourceMultiWrite[T]{}, nil, err
	}
	return m, m.Release, nil
}
