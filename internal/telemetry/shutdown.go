package telemetry

import (
	"context"
	"sync"
	"time"
)

// GracefulShutdown runs registered teardown functions in LIFO order,
// concurrently, under a deadline. Used by the example demo wiring to close
// its loader before process exit.
type GracefulShutdown struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	logger  *Logger
}

func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = NewDefault("shutdown")
	}
	return &GracefulShutdown{timeout: timeout, logger: logger}
}

// Register adds a teardown function to run on Shutdown.
func (g *GracefulShutdown) Register(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fns = append(g.fns, fn)
}

// Shutdown runs every registered function (most recently registered first)
// concurrently and waits for them all or for the deadline, whichever comes
// first.
func (g *GracefulShutdown) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	fns := append([]func() error(nil), g.fns...)
	g.mu.Unlock()

	g.logger.Infof("starting graceful shutdown", Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	errs := make(chan error, len(fns))
	var wg sync.WaitGroup
	for i := len(fns) - 1; i >= 0; i-- {
		wg.Add(1)
		fn := fns[i]
		go func(idx int) {
			defer wg.Done()
			if err := fn(); err != nil {
				g.logger.Errorf("shutdown function failed", Int("index", idx), Err(err))
				errs <- err
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Infof("graceful shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		g.logger.Warnf("graceful shutdown timed out")
		return NewError("shutdown timeout")
	}
}
