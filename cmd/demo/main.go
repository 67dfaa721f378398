// Command demo exercises the resource substrate end to end: a Store
// backed by an async loader, a Resources registry read and written by
// scheduled systems through global guards, and a scheduler plan running two independent systems in
// parallel before a third that depends on both. It exists only to
// exercise the library for manual verification, not as a shipped product
// (SPEC_FULL.md §5).
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nmxmxh/shine/internal/telemetry"
	"github.com/nmxmxh/shine/observer"
	"github.com/nmxmxh/shine/resources"
	"github.com/nmxmxh/shine/scheduler"
	"github.com/nmxmxh/shine/store"
)

type texture struct {
	Pixels []byte
	Loaded bool
	Err    error
}

type tally struct{ Count int }
type score struct{ Total int }

func main() {
	logger := telemetry.NewDefault("demo")

	textures := store.New[string, texture](64)
	loader := store.NewAsyncLoader(
		store.LoaderConfig{Name: "textures"},
		func(ctx context.Context, tok store.LoadToken[string], req struct{}) ([]byte, error) {
			time.Sleep(5 * time.Millisecond)
			return []byte(tok.Key()), nil
		},
		func(value *texture, resp []byte, err error, tok store.LoadToken[string]) []struct{} {
			if err != nil {
				value.Err = err
				return nil
			}
			value.Pixels = resp
			value.Loaded = true
			return nil
		},
	)
	loader.Attach(textures)

	dispatcher := observer.NewDispatcher[string]()
	dispatcher.Subscribe(func(name string) observer.Action {
		logger.Infof("texture ready", telemetry.String("name", name))
		return observer.KeepObserving
	})

	dep := observer.NewDependency[string, texture](func(v *texture) (bool, error) {
		if v.Err != nil {
			return false, v.Err
		}
		return v.Loaded, nil
	})
	g := textures.TryRead()
	dep.Request(g, store.Named("hero.png"), func() *observer.Subscription[struct{}] {
		return nil
	})
	g.Release()

	for dep.State() == observer.StatePending {
		time.Sleep(time.Millisecond)
		w := textures.TryWrite()
		w.LoadAndFinalizeRequests(nil)
		w.Release()
		g := textures.TryRead()
		dep.Request(g, store.Named("hero.png"), nil)
		g.Release()
	}
	if idx, ok := dep.Index(); ok {
		r := textures.TryRead()
		fmt.Println("loaded texture bytes:", len(r.At(idx).Pixels))
		r.Release()
	}
	dispatcher.NotifyAll("hero.png")

	res := resources.New()
	resources.RegisterUnmanaged[tally](res)
	resources.RegisterUnmanaged[score](res)
	resources.InsertGlobal(res, tally{})
	resources.InsertGlobal(res, score{})

	incrementTally := scheduler.FuncSystem{
		Debug: "increment-tally",
		Sys:   "tally",
		Named: true,
		Claim: scheduler.ResMut[tally]{}.IntoClaim(),
		RunFn: func(r *resources.Resources) (*scheduler.TaskGroup, error) {
			g, err := resources.GetMutGlobal[tally](r)
			if err != nil {
				return nil, err
			}
			defer g.Release()
			g.Get().Count++
			return nil, nil
		},
	}
	incrementScore := scheduler.FuncSystem{
		Debug: "increment-score",
		Sys:   "score",
		Named: true,
		Claim: scheduler.ResMut[score]{}.IntoClaim(),
		RunFn: func(r *resources.Resources) (*scheduler.TaskGroup, error) {
			g, err := resources.GetMutGlobal[score](r)
			if err != nil {
				return nil, err
			}
			defer g.Release()
			g.Get().Total += 10
			return nil, nil
		},
	}
	report := scheduler.FuncSystem{
		Debug: "report",
		Sys:   "report",
		Named: true,
		Claim: scheduler.Res[tally]{}.IntoClaim().Merge(scheduler.Res[score]{}.IntoClaim()),
		RunFn: func(r *resources.Resources) (*scheduler.TaskGroup, error) {
			t, err := resources.GetGlobal[tally](r)
			if err != nil {
				return nil, err
			}
			defer t.Release()
			s, err := resources.GetGlobal[score](r)
			if err != nil {
				return nil, err
			}
			defer s.Release()
			logger.Infof("tick report", telemetry.Int("tally", t.Get().Count), telemetry.Int("score", s.Get().Total))
			return nil, nil
		},
	}

	b := scheduler.NewBuilder()
	b.Add(incrementTally)
	b.Add(incrementScore)
	b.Add(report)
	plan, err := b.Build()
	if err != nil {
		logger.Errorf("plan build failed", telemetry.Err(err))
		return
	}

	exec := scheduler.NewExecutor(4)
	shutdown := telemetry.NewGracefulShutdown(time.Second, logger)
	shutdown.Register(func() error {
		loader.Close()
		return nil
	})

	for i := 0; i < 3; i++ {
		if _, err := exec.Tick(context.Background(), plan, res); err != nil {
			logger.Errorf("tick failed", telemetry.Err(err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown.Shutdown(ctx); err != nil {
		logger.Errorf("shutdown failed", telemetry.Err(err))
	}
}
