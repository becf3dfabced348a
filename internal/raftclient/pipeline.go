package raftclient

import (
	"context"
	"sync"
	"time"

	"github.com/tokmesh/cluster-go/internal/telemetry/logger"
)

// Future is the caller-visible result slot for one submitted request
// (§3 "Request record" completion). Wait blocks the calling goroutine
// only; it never touches the session thread.
type Future struct {
	mu         sync.Mutex
	done       chan struct{}
	result     any
	err        error
	completed  bool
	onComplete []func()
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) complete(result any, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.result, f.err = result, err
	f.completed = true
	callbacks := f.onComplete
	f.onComplete = nil
	f.mu.Unlock()

	close(f.done)
	for _, cb := range callbacks {
		cb()
	}
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// chain returns a new Future that completes with fn applied to f's
// outcome. fn runs synchronously on whatever goroutine calls f.complete
// — for a pipeline's futures that's always the session's execLoop, in
// sequence order (§4.C, §8 invariant 3), so chaining never introduces
// an independent completion race the way a dedicated Wait-then-complete
// goroutine per request would.
func (f *Future) chain(fn func(any, error) (any, error)) *Future {
	out := newFuture()
	f.mu.Lock()
	if f.completed {
		result, err := f.result, f.err
		f.mu.Unlock()
		r, e := fn(result, err)
		out.complete(r, e)
		return out
	}
	f.onComplete = append(f.onComplete, func() {
		r, e := fn(f.result, f.err)
		out.complete(r, e)
	})
	f.mu.Unlock()
	return out
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}

// pipelineEntry is one in-flight or completed request record (§3).
type pipelineEntry struct {
	sequence uint64
	future   *Future
	ready    bool // true once a final (non-retriable) outcome is known
	result   any
	err      error
}

// requestSender is the dispatch surface Pipeline depends on —
// satisfied by *ConnectionManager, and narrow enough that tests can
// substitute a stub without standing up a Selector or Transport.
type requestSender interface {
	SendAndReceive(ctx context.Context, req any) (any, error)
}

// Pipeline assigns monotonically increasing sequence numbers and
// guarantees submission-order completion regardless of network
// reordering or retries (§4.C). It retries retriable failures with
// backoff, reusing the same sequence so the server can deduplicate.
type Pipeline struct {
	cm     requestSender
	loop   *execLoop
	logger logger.Logger

	mu               sync.Mutex
	nextSeq          uint64
	expectedComplete uint64
	pending          map[uint64]*pipelineEntry
	closed           bool
	closeErr         error

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewPipeline constructs a pipeline. loop is the session's single
// execution context; all Future completions are posted there so they
// run serialized with event dispatch and keep-alive bookkeeping (§5).
func NewPipeline(cm requestSender, loop *execLoop, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		cm:               cm,
		loop:             loop,
		logger:           log,
		nextSeq:          1,
		expectedComplete: 1,
		pending:          make(map[uint64]*pipelineEntry),
		retryBaseDelay:   50 * time.Millisecond,
		retryMaxDelay:    2 * time.Second,
	}
}

// Submit assigns the next sequence, builds the wire request via build,
// and dispatches it, retrying on ErrConnectFailed or a retriable
// response code until a terminal outcome is reached or the pipeline is
// closed. build receives the assigned sequence so it can stamp it into
// the wire message.
func (p *Pipeline) Submit(ctx context.Context, build func(seq uint64) any) *Future {
	p.mu.Lock()
	if p.closed {
		err := p.closeErr
		p.mu.Unlock()
		return failedFuture(err)
	}
	seq := p.nextSeq
	p.nextSeq++
	e := &pipelineEntry{sequence: seq, future: newFuture()}
	p.pending[seq] = e
	p.mu.Unlock()

	go p.run(ctx, e, build)

	return e.future
}

func (p *Pipeline) run(ctx context.Context, e *pipelineEntry, build func(seq uint64) any) {
	delay := p.retryBaseDelay
	for {
		// FailAll has already completed e's future once the pipeline is
		// closed; stop sending and retrying.
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		req := build(e.sequence)
		resp, err := p.cm.SendAndReceive(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				p.finish(e, nil, err)
				return
			}
			// Connect-failed (sweep exhausted): back off and start a
			// new sweep, per §4.B.5 "the pipeline decides whether to
			// back off and start a new sweep".
			if !p.sleepBackoff(ctx, &delay) {
				p.finish(e, nil, ctx.Err())
				return
			}
			continue
		}

		op, ok := resp.(*OperationResponse)
		if !ok {
			// Control-plane response (Register/KeepAlive/...): the
			// caller inspects it directly, ordering still applies.
			p.finish(e, resp, nil)
			return
		}
		if op.Code.Retriable() {
			if !p.sleepBackoff(ctx, &delay) {
				p.finish(e, nil, ctx.Err())
				return
			}
			continue
		}
		p.finish(e, op, nil)
		return
	}
}

// sleepBackoff waits for the current backoff delay (capped,
// doubling), returning false if ctx was cancelled first.
func (p *Pipeline) sleepBackoff(ctx context.Context, delay *time.Duration) bool {
	t := time.NewTimer(*delay)
	defer t.Stop()
	select {
	case <-t.C:
		*delay *= 2
		if *delay > p.retryMaxDelay {
			*delay = p.retryMaxDelay
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the entry's outcome and, if this lets the pipeline's
// completion cursor advance, posts the completions to the session
// thread in sequence order (§4.C, §8 invariant 3).
func (p *Pipeline) finish(e *pipelineEntry, result any, err error) {
	p.mu.Lock()
	e.ready, e.result, e.err = true, result, err

	var toComplete []*pipelineEntry
	for {
		next, ok := p.pending[p.expectedComplete]
		if !ok || !next.ready {
			break
		}
		toComplete = append(toComplete, next)
		delete(p.pending, p.expectedComplete)
		p.expectedComplete++
	}
	p.mu.Unlock()

	for _, c := range toComplete {
		c := c
		p.loop.post(func() { c.future.complete(c.result, c.err) })
	}
}

// FailAll fails every still-pending request with err (session
// expiration or close, §4.D.2/§4.D.4), in sequence order, and rejects
// all further submissions with the same error.
func (p *Pipeline) FailAll(err error) {
	p.mu.Lock()
	p.closed = true
	p.closeErr = err
	remaining := make([]*pipelineEntry, 0, len(p.pending))
	for seq := p.expectedComplete; ; seq++ {
		e, ok := p.pending[seq]
		if !ok {
			break
		}
		remaining = append(remaining, e)
		delete(p.pending, seq)
	}
	p.expectedComplete += uint64(len(remaining))
	// Any sequences that never reached Submit's bookkeeping in order
	// (shouldn't happen given monotonic assignment, but guards against
	// a gap) are swept up too so no future leaks.
	for seq, e := range p.pending {
		remaining = append(remaining, e)
		delete(p.pending, seq)
	}
	p.mu.Unlock()

	for _, e := range remaining {
		e := e
		p.loop.post(func() { e.future.complete(nil, err) })
	}
}
