package scheduler

import (
	"context"
	"sync"

	"github.com/nmxmxh/shine/internal/telemetry"
	"github.com/nmxmxh/shine/resources"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Executor runs a Plan's waves against a Resources instance, one wave at
// a time, running every system within a wave concurrently up to a bounded
// worker count (spec.md §9 "the worker is driven by a bounded-concurrency
// executor the host supplies").
//
// Grounded on the teacher's kernel/threads/supervisor.go pattern of an
// errgroup-per-batch with a semaphore capping in-flight goroutines.
type Executor struct {
	maxConcurrency int64
	logger         *telemetry.Logger
}

// NewExecutor constructs an Executor bounding concurrent system execution
// within a wave to maxConcurrency (<=0 means unbounded).
func NewExecutor(maxConcurrency int64) *Executor {
	return &Executor{maxConcurrency: maxConcurrency, logger: telemetry.NewDefault("scheduler")}
}

// Tick runs every wave of plan in order against r, short-circuiting on the
// first system error (spec.md §4.7 "Errors short-circuit the tick"), and
// returns the merged TaskGroup every system asked to spawn for the next
// tick.
func (e *Executor) Tick(ctx context.Context, plan *Plan, r *resources.Resources) (*TaskGroup, error) {
	var next []System
	var nextMu sync.Mutex

	for _, wave := range plan.Waves {
		g, gctx := errgroup.WithContext(ctx)
		var sem *semaphore.Weighted
		if e.maxConcurrency > 0 {
			sem = semaphore.NewWeighted(e.maxConcurrency)
		}

		for _, sys := range wave {
			sys := sys
			g.Go(func() error {
				if sem != nil {
					if err := sem.Acquire(gctx, 1); err != nil {
						return err
					}
					defer sem.Release(1)
				}
				tg, err := sys.Run(r)
				if err != nil {
					return err
				}
				if !tg.Empty() {
					nextMu.Lock()
					next = append(next, tg.Systems...)
					nextMu.Unlock()
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &TaskGroup{Systems: next}, nil
}
