package store

import (
	"context"
	"sync"
	"time"

	"github.com/nmxmxh/shine/internal/telemetry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Request is one unit of work handed to a loader: the token identifying
// the target entry, and the caller-defined payload describing what to
// load (spec.md §3 "Load pipeline").
type Request[K comparable, Req any] struct {
	Token   LoadToken[K]
	Payload Req
}

// Response is the result of a completed (or failed) load.
type Response[K comparable, Resp any] struct {
	Token   LoadToken[K]
	Payload Resp
	Err     error
}

// LoaderFunc performs one load. Implementations are expected to use ctx
// for cancellation of the underlying I/O; cooperative cancellation via
// token.IsCanceled() is checked by the worker both before dispatch and
// after the call returns (spec.md §4.4 "Cancellation").
type LoaderFunc[K comparable, Req any, Resp any] func(ctx context.Context, token LoadToken[K], req Req) (Resp, error)

// OnResponse applies a completed response to the entry's value and
// returns any follow-up requests it wants enqueued against the same
// entry (spec.md §4.4 "Dependency hand-off").
type OnResponse[K comparable, D any, Req any, Resp any] func(value *D, resp Resp, err error, tok LoadToken[K]) []Req

// AsyncLoader is the generic load-pipeline worker of spec.md §4.4: it
// drains Requests, invokes a user loader under a circuit breaker and rate
// limiter, and posts Responses for later application by Store's
// LoadAndFinalizeRequests. One AsyncLoader backs exactly one Store.
//
// Grounded on the teacher's kernel/threads/supervisor.go message-queue
// pattern (buffered channel per concern, drained by a dedicated
// goroutine, WaitGroup-tracked shutdown).
type AsyncLoader[K comparable, D any, Req any, Resp any] struct {
	requests  chan Request[K, Req]
	responses chan Response[K, Resp]

	loadFn     LoaderFunc[K, Req, Resp]
	onResponse OnResponse[K, D, Req, Resp]

	breaker *gobreaker.CircuitBreaker[Resp]
	limiter *rate.Limiter

	logger *telemetry.Logger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// LoaderConfig configures an AsyncLoader.
type LoaderConfig struct {
	Name          string
	Workers       int           // goroutines draining Requests; default 1
	QueueSize     int           // request/response channel buffer; default 256
	RatePerSecond float64       // dispatch rate limit; default 50/s
	Burst         int           // rate limiter burst; default equals RatePerSecond truncated to an int, min 1
	BreakerWindow time.Duration // how long a tripped breaker stays open before a half-open probe; default 10s
}

// NewAsyncLoader starts an AsyncLoader whose workers call loadFn and apply
// results via onResponse (called from the owning Store's goroutine inside
// LoadAndFinalizeRequests, never concurrently with the store's own
// mutation).
func NewAsyncLoader[K comparable, D any, Req any, Resp any](
	cfg LoaderConfig,
	loadFn LoaderFunc[K, Req, Resp],
	onResponse OnResponse[K, D, Req, Resp],
) *AsyncLoader[K, D, Req, Resp] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "store-loader"
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &AsyncLoader[K, D, Req, Resp]{
		requests:   make(chan Request[K, Req], cfg.QueueSize),
		responses:  make(chan Response[K, Resp], cfg.QueueSize),
		loadFn:     loadFn,
		onResponse: onResponse,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:     telemetry.NewDefault(cfg.Name),
		ctx:        ctx,
		cancel:     cancel,
	}
	l.breaker = gobreaker.NewCircuitBreaker[Resp](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.BreakerWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warnf("circuit breaker state change",
				telemetry.String("name", name),
				telemetry.String("from", from.String()),
				telemetry.String("to", to.String()))
		},
	})

	for i := 0; i < cfg.Workers; i++ {
		l.wg.Add(1)
		go l.work()
	}
	return l
}

// Attach installs this loader as the given Store's load pipeline.
func (l *AsyncLoader[K, D, Req, Resp]) Attach(s *Store[K, D]) {
	s.attachHandler(l)
}

func (l *AsyncLoader[K, D, Req, Resp]) enqueueRequest(tok LoadToken[K], payload Req) {
	select {
	case l.requests <- Request[K, Req]{Token: tok, Payload: payload}:
	case <-l.ctx.Done():
	}
}

// dispatch implements loadHandler: it is called by Store immediately
// after a fresh entry is staged, and simply forwards the request — the
// AsyncLoader's own OnResponse is responsible for turning the zero-value
// entry into useful data once the load completes. Stores without a
// natural "build request from the zero value" need their own OnRequest
// hook; this minimal loader always requests the zero value of Req.
func (l *AsyncLoader[K, D, Req, Resp]) dispatch(tok LoadToken[K], value *D) {
	var zero Req
	l.enqueueRequest(tok, zero)
}

func (l *AsyncLoader[K, D, Req, Resp]) work() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case req, ok := <-l.requests:
			if !ok {
				return
			}
			if req.Token.IsCanceled() {
				continue
			}
			if err := l.limiter.Wait(l.ctx); err != nil {
				return
			}

			result, err := l.breaker.Execute(func() (Resp, error) {
				return l.loadFn(l.ctx, req.Token, req.Payload)
			})

			if req.Token.IsCanceled() {
				// Cancellation observed after the call returned: drop
				// the response silently per spec.md §4.4/§9.
				continue
			}

			select {
			case l.responses <- Response[K, Resp]{Token: req.Token, Payload: result, Err: err}:
			case <-l.ctx.Done():
				return
			}
		}
	}
}

// drain implements loadHandler: applies every response currently queued,
// without blocking, from the store's owning goroutine.
func (l *AsyncLoader[K, D, Req, Resp]) drain(s *Store[K, D]) {
	for {
		select {
		case resp := <-l.responses:
			if resp.Token.IsCanceled() {
				continue
			}
			idx, ok := s.lookupTransient(Named(resp.Token.Key()))
			if !ok {
				idx, ok = s.lookupShared(Named(resp.Token.Key()))
			}
			if !ok {
				// Entry was removed before its response arrived; per
				// spec.md's open question, drop silently.
				continue
			}
			e := s.entryAt(idx)
			followUps := l.onResponse(&e.value, resp.Payload, resp.Err, resp.Token)
			for _, req := range followUps {
				l.enqueueRequest(resp.Token, req)
			}
		default:
			return
		}
	}
}

// Close stops accepting new work and waits for in-flight workers to
// finish observing cancellation.
func (l *AsyncLoader[K, D, Req, Resp]) Close() {
	l.cancel()
	l.wg.Wait()
}
