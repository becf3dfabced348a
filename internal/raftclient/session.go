package raftclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmesh/cluster-go/internal/telemetry/logger"
)

// SessionState is the session's lifecycle variant (§3): NEW before
// registration, OPEN once the cluster has assigned a session_id,
// EXPIRED when the keep-alive contract is irrecoverably broken
// (terminal), CLOSED on graceful teardown.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionOpen
	SessionExpired
	SessionClosed
)

const closeAckTimeout = 3 * time.Second

// listenerEntry pairs a registered callback with an id so OnEvent's
// subscription can be revoked precisely, since Go funcs aren't
// comparable.
type listenerEntry struct {
	id uint64
	fn func(Event)
}

// Session is a long-lived client identity in the cluster, carrying a
// sequence space and event stream (§4.D).
type Session struct {
	clientID string
	cm       *ConnectionManager
	pipeline *Pipeline
	loop     *execLoop
	logger   logger.Logger
	metrics  *Metrics

	mu          sync.Mutex
	state       SessionState
	sessionID   string
	timeout     time.Duration
	lastEventID uint64 // last event index delivered to listeners

	ackedCommandSeq atomic.Uint64 // highest command sequence acknowledged

	pendingEvents map[uint64]*PublishEvent // buffered, out-of-order, keyed by event_index

	nextListenerID atomic.Uint64
	listeners      atomic.Pointer[map[string][]listenerEntry]
	listenersMu    sync.Mutex // serializes writers to `listeners`

	onOpenMu  sync.Mutex
	onOpen    []func()
	onCloseMu sync.Mutex
	onClose   []func(error)

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}
}

// NewSession constructs a session in state NEW. Open must be called
// before Submit will accept requests.
func NewSession(clientID string, cm *ConnectionManager, log logger.Logger, metrics *Metrics) *Session {
	if log == nil {
		log = logger.Default()
	}
	s := &Session{
		clientID:      clientID,
		cm:            cm,
		loop:          newExecLoop(),
		logger:        log,
		metrics:       metrics,
		pendingEvents: make(map[uint64]*PublishEvent),
	}
	empty := map[string][]listenerEntry{}
	s.listeners.Store(&empty)
	s.pipeline = NewPipeline(cm, s.loop, log)
	cm.RegisterHandler("PublishEvent", s.handlePublishEvent)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the cluster-assigned session_id, or "" before Open.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Open registers the session with the cluster (§4.D.1) and starts the
// keep-alive loop (§4.D.2). timeoutHint is advisory only; the cluster's
// effective timeout in the response is authoritative.
func (s *Session) Open(ctx context.Context, timeoutHint time.Duration) error {
	resp, err := s.cm.SendAndReceive(ctx, &RegisterRequest{ClientID: s.clientID, TimeoutHint: timeoutHint})
	if err != nil {
		return err
	}
	rr, ok := resp.(*RegisterResponse)
	if !ok || rr.Status != StatusOK {
		return ErrConnectFailed
	}
	s.cm.applyMembership(rr.Leader, rr.Members)

	s.mu.Lock()
	s.sessionID = rr.SessionID
	s.timeout = rr.Timeout
	s.state = SessionOpen
	s.mu.Unlock()

	s.keepAliveStop = make(chan struct{})
	s.keepAliveDone = make(chan struct{})
	go s.keepAliveLoop(rr.Timeout)

	for _, fn := range s.onOpenSnapshot() {
		fn := fn
		s.loop.post(fn)
	}
	return nil
}

// keepAliveLoop implements §4.D.2: fires every timeout/2, and declares
// the session expired if keep-alives fail continuously for longer than
// the effective timeout.
func (s *Session) keepAliveLoop(timeout time.Duration) {
	defer close(s.keepAliveDone)
	interval := timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failingSince time.Time
	for {
		select {
		case <-s.keepAliveStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			f := s.pipeline.Submit(ctx, func(seq uint64) any {
				return &KeepAliveRequest{
					SessionID:       s.ID(),
					Sequence:        seq,
					CommandSequence: s.ackedCommandSeq.Load(),
					EventIndex:      s.lastEventIndex(),
				}
			})
			result, err := f.Wait(ctx)
			cancel()
			if err != nil {
				if failingSince.IsZero() {
					failingSince = time.Now()
				}
				if time.Since(failingSince) > timeout {
					s.expire(ErrSessionExpired.WithCause(err))
					return
				}
				continue
			}
			failingSince = time.Time{}
			if ka, ok := result.(*KeepAliveResponse); ok {
				s.cm.applyMembership(ka.Leader, ka.Members)
			}
		}
	}
}

// SubmitCommand submits a state-mutating operation, routed to the
// leader (§4.C).
func (s *Session) SubmitCommand(ctx context.Context, consistency Consistency, payload []byte) *Future {
	if s.State() != SessionOpen {
		return failedFuture(ErrNotOpen)
	}
	var seq uint64
	inner := s.pipeline.Submit(ctx, func(assigned uint64) any {
		seq = assigned
		return &CommandRequest{SessionID: s.ID(), Sequence: assigned, Consistency: consistency, Payload: payload}
	})
	return s.translate(inner, &seq)
}

// SubmitQuery submits a read-only operation (§4.C). index, if nonzero,
// pins the query to a particular read-index/sequence bound; zero means
// "whatever the server's current state allows for this consistency
// level".
func (s *Session) SubmitQuery(ctx context.Context, consistency Consistency, index uint64, payload []byte) *Future {
	if s.State() != SessionOpen {
		return failedFuture(ErrNotOpen)
	}
	inner := s.pipeline.Submit(ctx, func(seq uint64) any {
		return &QueryRequest{SessionID: s.ID(), Sequence: seq, Consistency: consistency, Index: index, Payload: payload}
	})
	return s.translate(inner, nil)
}

// translate wraps a pipeline Future so its result is a *Result (not
// the raw *OperationResponse), an unknown-session response is mapped
// to ErrSessionExpired, and a successful command updates the
// acknowledged command sequence used by keep-alives. commandSeq is nil
// for queries, which don't advance the command-sequence watermark.
//
// The translation runs inside Future.chain, i.e. on whatever goroutine
// completes inner — the session's execLoop, in the pipeline's sequence
// order (§4.C, §8 invariant 3). A dedicated per-request goroutine doing
// inner.Wait then out.complete would let independently scheduled
// goroutines race to complete the caller-visible futures out of order;
// chaining keeps completion on the single ordered thread.
func (s *Session) translate(inner *Future, commandSeq *uint64) *Future {
	return inner.chain(func(result any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		op, ok := result.(*OperationResponse)
		if !ok {
			s.countFailure()
			return nil, ErrConnectFailed
		}
		if op.Code == CodeUnknownSession {
			return nil, ErrSessionExpired
		}
		if op.Code.Terminal() {
			s.countFailure()
			return nil, newError("RC-OP-"+op.Code.String(), "operation failed")
		}
		if commandSeq != nil {
			casMax(&s.ackedCommandSeq, *commandSeq)
		}
		return &Result{Index: op.Index, EventIndex: op.EventIndex, Payload: op.Result}, nil
	})
}

func (s *Session) countFailure() {
	if s.metrics != nil {
		s.metrics.RequestsFailed.Inc()
	}
}

func casMax(v *atomic.Uint64, val uint64) {
	for {
		cur := v.Load()
		if val <= cur {
			return
		}
		if v.CompareAndSwap(cur, val) {
			return
		}
	}
}

func (s *Session) lastEventIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// handlePublishEvent is installed as the connection's "PublishEvent"
// inbound handler. It posts to the session thread so ordering,
// dedup, and gap-buffering (§4.D.3) are all single-writer.
func (s *Session) handlePublishEvent(msg any) {
	ev, ok := msg.(*PublishEvent)
	if !ok {
		return
	}
	s.loop.post(func() { s.onEventReceived(ev) })
}

func (s *Session) onEventReceived(ev *PublishEvent) {
	s.mu.Lock()
	last := s.lastEventID
	s.mu.Unlock()

	if ev.EventIndex <= last {
		return // duplicate (§4.D.3)
	}
	if ev.EventIndex != last+1 {
		s.pendingEvents[ev.EventIndex] = ev // gap: wait for the missing event
		return
	}
	s.dispatchEvent(ev)
	for {
		next := s.lastEventIndex() + 1
		buffered, ok := s.pendingEvents[next]
		if !ok {
			break
		}
		delete(s.pendingEvents, next)
		s.dispatchEvent(buffered)
	}
}

// dispatchEvent delivers ev to its registered listeners. Only ever
// called from the session thread (execLoop), so lastEventID needs no
// separate synchronization beyond the mutex shared with readers like
// lastEventIndex.
func (s *Session) dispatchEvent(ev *PublishEvent) {
	s.mu.Lock()
	s.lastEventID = ev.EventIndex
	s.mu.Unlock()

	listeners := *s.listeners.Load()
	for _, entry := range listeners[ev.Name] {
		entry.fn(Event{Name: ev.Name, Index: ev.EventIndex, Payload: ev.Payload})
	}
}

// OnEvent registers fn for events named name. The returned subscription
// removes fn when called; calling it more than once is a no-op.
func (s *Session) OnEvent(name string, fn func(Event)) (subscription func()) {
	id := s.nextListenerID.Add(1)

	s.listenersMu.Lock()
	old := *s.listeners.Load()
	next := make(map[string][]listenerEntry, len(old))
	for k, v := range old {
		next[k] = v
	}
	next[name] = append(append([]listenerEntry{}, next[name]...), listenerEntry{id: id, fn: fn})
	s.listeners.Store(&next)
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		old := *s.listeners.Load()
		cur := old[name]
		filtered := make([]listenerEntry, 0, len(cur))
		for _, e := range cur {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		next := make(map[string][]listenerEntry, len(old))
		for k, v := range old {
			next[k] = v
		}
		next[name] = filtered
		s.listeners.Store(&next)
	}
}

// OnOpen registers fn to run once Open completes successfully.
func (s *Session) OnOpen(fn func()) {
	s.onOpenMu.Lock()
	defer s.onOpenMu.Unlock()
	s.onOpen = append(s.onOpen, fn)
}

func (s *Session) onOpenSnapshot() []func() {
	s.onOpenMu.Lock()
	defer s.onOpenMu.Unlock()
	return append([]func(){}, s.onOpen...)
}

// OnClose registers fn to run when the session transitions to EXPIRED
// or CLOSED. err is nil for a graceful close, non-nil for expiration.
func (s *Session) OnClose(fn func(error)) {
	s.onCloseMu.Lock()
	defer s.onCloseMu.Unlock()
	s.onClose = append(s.onClose, fn)
}

func (s *Session) onCloseSnapshot() []func(error) {
	s.onCloseMu.Lock()
	defer s.onCloseMu.Unlock()
	return append([]func(error){}, s.onClose...)
}

// expire transitions the session to EXPIRED (terminal; §8 invariant 6:
// it never transitions back to OPEN on this instance), fails every
// pending completion, and fires onClose listeners (§4.D.2).
func (s *Session) expire(cause error) {
	s.mu.Lock()
	if s.state != SessionOpen {
		s.mu.Unlock()
		return
	}
	s.state = SessionExpired
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionExpired.Inc()
	}
	s.pipeline.FailAll(cause)
	for _, fn := range s.onCloseSnapshot() {
		fn := fn
		s.loop.post(func() { fn(cause) })
	}
}

// Close gracefully tears down the session (§4.D.4): best-effort
// Unregister, stop the keep-alive loop, fail any still-pending
// completions, fire onClose with a nil cause, and close the session
// thread.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case SessionClosed:
		s.mu.Unlock()
		return nil
	case SessionExpired:
		s.mu.Unlock()
		return ErrSessionExpired
	}
	s.state = SessionClosed
	sessionID := s.sessionID
	s.mu.Unlock()

	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		<-s.keepAliveDone
	}

	ackCtx, cancel := context.WithTimeout(ctx, closeAckTimeout)
	_, _ = s.cm.SendAndReceive(ackCtx, &UnregisterRequest{SessionID: sessionID})
	cancel()

	s.pipeline.FailAll(ErrNotOpen)
	for _, fn := range s.onCloseSnapshot() {
		fn := fn
		s.loop.post(func() { fn(nil) })
	}
	s.loop.close()
	return nil
}
