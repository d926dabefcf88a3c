// package queue executes request descriptors against a server with bounded
// concurrency.
//
// Network fetch and codec decode run in parallel across operations; the
// final reconciliation step is handed to a single dispatch function whose
// implementation serializes graph mutation. Cancellation is checked one last
// time immediately before that hand-off, so a cancelled operation can never
// mutate the graph even when its response already arrived.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/subsonic"
)

// DefaultMaxInflight matches common client conventions for simultaneous
// requests against one host.
const DefaultMaxInflight = 4

// Result is delivered to the submitter's completion callback after the
// operation fully settles (reconciled, failed, or cancelled).
type Result struct {
	Request  *subsonic.Request
	Envelope *subsonic.Envelope // nil for binary payloads and failures
	Body     []byte             // raw bytes for binary payloads
	MIME     string
	Err      error
}

// Completion observes one settled operation. Runs off the submitter's
// goroutine; must not block for long.
type Completion func(res Result)

// ReconcileFunc merges one decoded payload into the graph. The queue calls it
// from worker goroutines; implementations serialize actual mutation.
type ReconcileFunc func(req *subsonic.Request, env *subsonic.Envelope, body []byte, mime string) error

// Options bound one queue.
type Options struct {
	MaxInflight int
	RateLimit   float64       // requests per second; 0 disables throttling
	Timeout     time.Duration // per-operation transport timeout
}

// Queue is the bounded-concurrency executor for one server.
type Queue struct {
	transport Transport
	reconcile ReconcileFunc
	logger    *log.Logger

	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]
	slots   chan struct{}

	mu       sync.Mutex
	inflight map[string]*Handle
	closed   bool
	wg       sync.WaitGroup
}

// Handle identifies one logical operation and allows cancelling it. A handle
// can span several attempts of the same request: a completion that schedules
// another attempt calls Hold, and Done stays open until an attempt settles
// without holding.
type Handle struct {
	ID string
	Op subsonic.Operation

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled atomic.Bool
	held      atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewHandle mints a handle not yet bound to an attempt. Submit creates one
// internally; callers that resubmit use this to keep one handle across
// attempts.
func NewHandle(op subsonic.Operation) *Handle {
	return &Handle{ID: shared.GenerateID(), Op: op, done: make(chan struct{})}
}

// Cancel aborts the operation, covering any attempt submitted later under
// this handle. Safe to call at any point; after the call the operation's
// payload will not be reconciled.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Hold keeps Done open past the current attempt's settle because another
// attempt follows. Call only from within the attempt's completion callback.
func (h *Handle) Hold() { h.held.Store(true) }

// Finish settles a held handle when no further attempt can be submitted.
func (h *Handle) Finish() { h.finish() }

func (h *Handle) finish() {
	h.once.Do(func() { close(h.done) })
}

// Done closes once the operation finally settles, after its completion
// callback has run.
func (h *Handle) Done() <-chan struct{} { return h.done }

// New creates a queue over the given transport. reconcile receives every
// successfully decoded payload.
func New(transport Transport, reconcile ReconcileFunc, logger *log.Logger, opts Options) *Queue {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:    "transport",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Queue{
		transport: transport,
		reconcile: reconcile,
		logger:    logger,
		timeout:   opts.Timeout,
		limiter:   limiter,
		breaker:   breaker,
		slots:     make(chan struct{}, opts.MaxInflight),
		inflight:  make(map[string]*Handle),
	}
}

// Submit enqueues a request under a fresh handle and returns immediately.
// url must be the fully built request URL; completion may be nil.
func (q *Queue) Submit(ctx context.Context, req *subsonic.Request, url string, completion Completion) *Handle {
	h := NewHandle(req.Op)
	q.Resubmit(ctx, req, url, h, completion)
	return h
}

// Resubmit runs an attempt of req under an existing handle, so Cancel and
// Done span a retried operation as one. An already-cancelled handle settles
// immediately without touching the transport.
func (q *Queue) Resubmit(ctx context.Context, req *subsonic.Request, url string, h *Handle, completion Completion) {
	opCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	if h.cancelled.Load() {
		cancel()
		q.settle(h, completion, Result{Request: req, Err: shared.ErrOperationCancelled})
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		q.settle(h, completion, Result{Request: req, Err: shared.ErrOperationCancelled})
		return
	}
	q.inflight[h.ID] = h
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		res := q.run(opCtx, req, url, h)
		q.mu.Lock()
		delete(q.inflight, h.ID)
		q.mu.Unlock()
		cancel()
		q.settle(h, completion, res)
		q.wg.Done()
	}()
}

func (q *Queue) run(ctx context.Context, req *subsonic.Request, url string, h *Handle) Result {
	select {
	case q.slots <- struct{}{}:
		defer func() { <-q.slots }()
	case <-ctx.Done():
		return Result{Request: req, Err: q.settleErr(ctx, h)}
	}

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return Result{Request: req, Err: q.settleErr(ctx, h)}
		}
	}

	callCtx, cancelCall := context.WithTimeout(ctx, q.timeout)
	defer cancelCall()

	resp, err := q.breaker.Execute(func() (*Response, error) {
		return q.transport.Do(callCtx, url)
	})
	if err != nil {
		q.logger.Debug("transport failure", "op", req.Op.String(), "err", err)
		return Result{Request: req, Err: asTransportError(callCtx, h, err)}
	}

	// Binary payloads (cover art) skip the codec; the reconciler stores
	// the bytes.
	if req.Binary {
		return q.finish(req, nil, resp, h)
	}

	env, err := subsonic.Decode(resp.Body, resp.MIME)
	if err != nil {
		// Protocol and codec failures surface without touching the graph.
		return Result{Request: req, MIME: resp.MIME, Err: err}
	}
	return q.finish(req, env, resp, h)
}

func (q *Queue) finish(req *subsonic.Request, env *subsonic.Envelope, resp *Response, h *Handle) Result {
	// Last-chance cancellation check: a response that raced a Cancel call
	// must not reach the graph.
	if h.cancelled.Load() {
		return Result{Request: req, Err: shared.ErrOperationCancelled}
	}

	if err := q.reconcile(req, env, resp.Body, resp.MIME); err != nil {
		return Result{Request: req, Envelope: env, MIME: resp.MIME, Err: err}
	}
	return Result{Request: req, Envelope: env, Body: resp.Body, MIME: resp.MIME}
}

// settle delivers the attempt's result and closes the handle unless the
// completion held it open for another attempt.
func (q *Queue) settle(h *Handle, completion Completion, res Result) {
	if completion != nil {
		completion(res)
	}
	if !h.held.Swap(false) {
		h.finish()
	}
}

// settleErr distinguishes explicit cancellation from a dead parent context.
func (q *Queue) settleErr(ctx context.Context, h *Handle) error {
	if h.cancelled.Load() {
		return shared.ErrOperationCancelled
	}
	if ctx.Err() == context.DeadlineExceeded {
		return &TransportError{Cause: shared.ErrTimeout}
	}
	return shared.ErrOperationCancelled
}

func asTransportError(ctx context.Context, h *Handle, err error) error {
	if h.cancelled.Load() {
		return shared.ErrOperationCancelled
	}
	if te, ok := err.(*TransportError); ok {
		if ctx.Err() == context.DeadlineExceeded {
			return &TransportError{Cause: shared.ErrTimeout}
		}
		return te
	}
	// Circuit breaker rejections count as transport failures.
	return &TransportError{Cause: err}
}

// CancelAll aborts every in-flight operation; results that arrive afterward
// are discarded.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	handles := make([]*Handle, 0, len(q.inflight))
	for _, h := range q.inflight {
		handles = append(handles, h)
	}
	q.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// Close cancels everything and waits for workers to drain. Further Submits
// settle immediately as cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.CancelAll()
	q.wg.Wait()
}

// Inflight reports the number of unsettled operations.
func (q *Queue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
