package observer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nmxmxh/shine/observer"
	"github.com/nmxmxh/shine/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_NotifyAllAndUnsubscribe(t *testing.T) {
	d := observer.NewDispatcher[string]()
	var received []string

	sub1 := d.Subscribe(func(e string) observer.Action {
		received = append(received, "first:"+e)
		return observer.KeepObserving
	})
	d.Subscribe(func(e string) observer.Action {
		received = append(received, "second:"+e)
		return observer.Unsubscribe
	})

	d.NotifyAll("a")
	assert.ElementsMatch(t, []string{"first:a", "second:a"}, received)
	assert.Equal(t, 1, d.Len(), "the Unsubscribe-returning observer must be removed")

	received = nil
	sub1.Unsubscribe()
	d.NotifyAll("b")
	assert.Empty(t, received)
	assert.Equal(t, 0, d.Len())
}

type textureData struct {
	Loaded bool
	Err    error
}

// TestDependency_LoadFailureTransitionsToErrored covers spec.md §8
// scenario S5: a get_or_load for an id whose loader fails transitions the
// dependency to Errored after load_and_finalize_requests, and a
// subscriber installed at request time is notified exactly once.
func TestDependency_LoadFailureTransitionsToErrored(t *testing.T) {
	failID := 7
	loadErr := errors.New("texture decode failed")

	var notifications int
	dispatcher := observer.NewDispatcher[error]()

	s := store.New[int, textureData](4)
	loader := store.NewAsyncLoader(
		store.LoaderConfig{Name: "texture-test", RatePerSecond: 1000},
		func(ctx context.Context, tok store.LoadToken[int], req struct{}) (struct{}, error) {
			if tok.Key() == failID {
				return struct{}{}, loadErr
			}
			return struct{}{}, nil
		},
		func(value *textureData, resp struct{}, err error, tok store.LoadToken[int]) []struct{} {
			if err != nil {
				value.Err = err
				// Notify observers of the terminal Error state, per
				// spec.md §7 "LoadFailed ... observers are notified".
				dispatcher.NotifyAll(err)
			} else {
				value.Loaded = true
			}
			return nil
		},
	)
	defer loader.Close()
	loader.Attach(s)

	dep := observer.NewDependency[int, textureData](func(v *textureData) (bool, error) {
		if v.Err != nil {
			return false, v.Err
		}
		return v.Loaded, nil
	})

	dispatcher.Subscribe(func(error) observer.Action {
		notifications++
		return observer.Unsubscribe
	})

	g := s.TryRead()
	dep.Request(g, store.Named(failID), nil)
	g.Release()
	require.Equal(t, observer.StatePending, dep.State())

	// Simulate the loader completing and the store synchronizing
	// responses, as load_and_finalize_requests would on the owning
	// goroutine.
	deadline := 0
	for dep.State() == observer.StatePending && deadline < 2000 {
		w := s.TryWrite()
		w.LoadAndFinalizeRequests(nil)
		w.Release()
		if dep.State() == observer.StatePending {
			g := s.TryRead()
			dep.Request(g, store.Named(failID), nil)
			g.Release()
			time.Sleep(time.Millisecond)
		}
		deadline++
	}

	assert.Equal(t, observer.StateErrored, dep.State())
	assert.ErrorIs(t, dep.Err(), loadErr)
	assert.Equal(t, 1, notifications, "observer must be notified exactly once")
}

func TestDependency_ResetReturnsToIncomplete(t *testing.T) {
	dep := observer.NewDependency[int, textureData](func(v *textureData) (bool, error) {
		return v.Loaded, v.Err
	})

	s := store.New[int, textureData](4)
	loader := store.NewAsyncLoader(
		store.LoaderConfig{Name: "reset-test", RatePerSecond: 1000},
		func(ctx context.Context, tok store.LoadToken[int], req struct{}) (struct{}, error) {
			return struct{}{}, nil
		},
		func(value *textureData, resp struct{}, err error, tok store.LoadToken[int]) []struct{} {
			value.Loaded = true
			return nil
		},
	)
	defer loader.Close()
	loader.Attach(s)

	g := s.TryRead()
	dep.Request(g, store.Named(1), nil)
	g.Release()

	deadline := 0
	for dep.State() != observer.StateCompleted && deadline < 2000 {
		w := s.TryWrite()
		w.LoadAndFinalizeRequests(nil)
		w.Release()
		g := s.TryRead()
		dep.Request(g, store.Named(1), nil)
		g.Release()
		time.Sleep(time.Millisecond)
		deadline++
	}
	require.Equal(t, observer.StateCompleted, dep.State())

	dep.Reset()
	assert.Equal(t, observer.StateIncomplete, dep.State())
}
