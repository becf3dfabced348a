package raftclient

import (
	"context"
	"sync"
	"time"

	"github.com/tokmesh/cluster-go/internal/telemetry/logger"
)

// pendingConnect is the one-shot completion plus piggyback FIFO from
// §3 "Pending connect": while it exists, no new transport Connect is
// issued, and newcomers attach to it and share its outcome.
type pendingConnect struct {
	done chan struct{}
	conn Connection
	err  error
}

func (p *pendingConnect) await(ctx context.Context) (Connection, error) {
	select {
	case <-p.done:
		return p.conn, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConnectionManager maintains at most one live transport connection at
// a time, performs the handshake, coalesces concurrent connect
// attempts, and fails over to another server on transport or protocol
// errors (§4.B).
type ConnectionManager struct {
	transport Transport
	selector  *Selector
	clientID  string
	logger    logger.Logger
	metrics   *Metrics

	mu       sync.Mutex
	openFlag bool
	current  Connection
	pending  *pendingConnect
	handlers map[string]func(any) // copy-on-write: read from transport callbacks, written only here

	onMembership func(leader *Address, members []Address)
}

// NewConnectionManager constructs a manager. onMembership, if non-nil,
// is invoked (off the session thread; callers must re-post if they
// touch session state) whenever a handshake or control response
// carries an updated membership view.
func NewConnectionManager(transport Transport, selector *Selector, clientID string, log logger.Logger, metrics *Metrics) *ConnectionManager {
	if log == nil {
		log = logger.Default()
	}
	return &ConnectionManager{
		transport: transport,
		selector:  selector,
		clientID:  clientID,
		logger:    log,
		metrics:   metrics,
		openFlag:  true,
		handlers:  make(map[string]func(any)),
	}
}

// RegisterHandler installs fn for inbound messages of msgType, both on
// future connections (via the handshake) and on the current connection
// if one exists.
func (m *ConnectionManager) RegisterHandler(msgType string, fn func(any)) {
	m.mu.Lock()
	next := make(map[string]func(any), len(m.handlers)+1)
	for k, v := range m.handlers {
		next[k] = v
	}
	next[msgType] = fn
	m.handlers = next
	current := m.current
	m.mu.Unlock()

	if current != nil {
		current.Handler(msgType, fn)
	}
}

func (m *ConnectionManager) handlersSnapshot() map[string]func(any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

// Close marks the manager closed and releases the active connection.
// Subsequent getConnection calls fail with ErrClientClosed (§7).
func (m *ConnectionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.openFlag {
		m.mu.Unlock()
		return nil
	}
	m.openFlag = false
	current := m.current
	m.current = nil
	m.mu.Unlock()

	if current != nil {
		return current.Close(ctx)
	}
	return nil
}

// getConnection implements §4.B.1: return the current connection if
// one exists and the selector hasn't been reset since; otherwise
// coalesce onto an in-flight connect, or start a new one.
func (m *ConnectionManager) getConnection(ctx context.Context) (Connection, error) {
	m.mu.Lock()
	if !m.openFlag {
		m.mu.Unlock()
		return nil, ErrClientClosed
	}

	// §9 "Open question — RESET race": a membership update always
	// forces a reconnect check here, even if the current connection
	// still points at the leader. Safety over availability, preserved
	// deliberately rather than "fixed".
	if m.selector.ConsumeResetLatch() && m.current != nil {
		stale := m.current
		m.current = nil
		m.mu.Unlock()
		_ = stale.Close(ctx)
		return m.startConnect(ctx)
	}

	if m.current != nil {
		c := m.current
		m.mu.Unlock()
		return c, nil
	}

	if m.pending != nil {
		p := m.pending
		m.mu.Unlock()
		return p.await(ctx)
	}

	m.mu.Unlock()
	return m.startConnect(ctx)
}

// startConnect begins (or piggybacks on) a coalesced connect attempt.
func (m *ConnectionManager) startConnect(ctx context.Context) (Connection, error) {
	m.mu.Lock()
	if !m.openFlag {
		m.mu.Unlock()
		return nil, ErrClientClosed
	}
	if m.pending != nil {
		p := m.pending
		m.mu.Unlock()
		return p.await(ctx)
	}
	if !m.selector.ConsumeResetLatch() {
		m.selector.Reset()
	}
	p := &pendingConnect{done: make(chan struct{})}
	m.pending = p
	m.mu.Unlock()

	conn, err := m.iterativeConnect(ctx)

	m.mu.Lock()
	m.pending = nil
	if err == nil && conn != nil {
		m.current = conn
	}
	m.mu.Unlock()

	p.conn, p.err = conn, err
	close(p.done)

	if err != nil {
		return nil, err
	}
	if conn == nil {
		// §4.B.2, §9 "Open question — empty connect result": sweep
		// exhaustion completes the pending connect with (none,
		// success) upstream in Copycat; here the manager translates
		// that into an explicit transport error for its own callers.
		return nil, ErrConnectFailed
	}
	return conn, nil
}

// iterativeConnect implements §4.B.2: walk the selector's current
// sweep, handshaking each candidate that accepts a transport
// connection, until one completes the handshake or the sweep is
// exhausted.
func (m *ConnectionManager) iterativeConnect(ctx context.Context) (Connection, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !m.selector.HasNext() {
			return nil, nil
		}
		addr := m.selector.Next()
		start := time.Now()
		conn, err := m.transport.Connect(ctx, addr)
		if err != nil {
			m.logger.Warn("connect failed", "addr", addr.String(), "error", err)
			continue
		}
		if m.handshake(ctx, conn, addr) {
			if m.metrics != nil {
				m.metrics.ConnectLatency.Observe(time.Since(start).Seconds())
			}
			return conn, nil
		}
		_ = conn.Close(ctx)
	}
}

// handshake implements §4.B.3. It returns false for both transport
// failures and a non-OK ConnectResponse, in either case telling the
// caller to continue iterating to the next candidate.
func (m *ConnectionManager) handshake(ctx context.Context, conn Connection, addr Address) bool {
	ref := conn
	conn.OnClose(func(error) {
		m.mu.Lock()
		if m.current == ref {
			m.current = nil
		}
		m.mu.Unlock()
	})
	conn.OnException(func(error) {
		m.mu.Lock()
		if m.current == ref {
			m.current = nil
		}
		m.mu.Unlock()
	})

	for msgType, fn := range m.handlersSnapshot() {
		conn.Handler(msgType, fn)
	}

	resp, err := conn.SendAndReceive(ctx, &ConnectRequest{ClientID: m.clientID})
	if err != nil {
		m.logger.Warn("connect handshake failed", "addr", addr.String(), "error", err)
		return false
	}
	cr, ok := resp.(*ConnectResponse)
	if !ok || cr.Status != StatusOK {
		m.logger.Warn("connect rejected", "addr", addr.String())
		return false
	}

	m.selector.ResetWithView(cr.Leader, cr.Members)
	if m.onMembership != nil {
		m.onMembership(cr.Leader, cr.Members)
	}
	return true
}

// applyMembership updates the selector from a control-plane response
// (Register/KeepAlive) that carries a membership view, and notifies
// onMembership the same way a handshake would.
func (m *ConnectionManager) applyMembership(leader *Address, members []Address) {
	if len(members) == 0 && leader == nil {
		return
	}
	m.selector.ResetWithView(leader, members)
	if m.onMembership != nil {
		m.onMembership(leader, members)
	}
}

// SendAndReceive implements §4.B.4/§4.B.5 for request/response
// messages: obtain a connection, dispatch, and resend once on a
// transport failure or a retriable protocol error.
func (m *ConnectionManager) SendAndReceive(ctx context.Context, req any) (any, error) {
	conn, err := m.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.SendAndReceive(ctx, req)
	if err == nil && !responseCode(resp).Retriable() {
		return resp, nil
	}
	if m.metrics != nil {
		m.metrics.RequestsRetried.Inc()
	}
	return m.resend(ctx, conn, req, true)
}

// Send implements §4.B.4/§4.B.5 for fire-and-forget messages.
func (m *ConnectionManager) Send(ctx context.Context, req any) error {
	conn, err := m.getConnection(ctx)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, req); err == nil {
		return nil
	}
	if m.metrics != nil {
		m.metrics.RequestsRetried.Inc()
	}
	_, err = m.resend(ctx, conn, req, false)
	return err
}

// resend implements §4.B.5: if the request was sent on what is still
// the manager's current connection, that's evidence the connection is
// bad, so drop it and reconnect; otherwise a concurrent reconnect
// already replaced the connection, so just reuse whatever is current
// now. Either way, bounded to one retry attempt per call — the caller
// (the Request Pipeline) owns any further sweep-level retry loop.
func (m *ConnectionManager) resend(ctx context.Context, badConn Connection, req any, wantResponse bool) (any, error) {
	m.mu.Lock()
	same := m.current == badConn
	if same {
		m.current = nil
	}
	m.mu.Unlock()

	if same {
		if m.metrics != nil {
			m.metrics.Failovers.Inc()
		}
		_ = badConn.Close(ctx)
	}

	conn, err := m.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	if !wantResponse {
		return nil, conn.Send(ctx, req)
	}
	return conn.SendAndReceive(ctx, req)
}

// responseCode extracts the wire Code from a response, if any. A nil
// or unrecognized response is treated as not-retriable by this helper;
// callers distinguish "err != nil" (always retried) separately.
func responseCode(resp any) Code {
	switch r := resp.(type) {
	case *ConnectResponse:
		return r.Code
	case *RegisterResponse:
		return r.Code
	case *KeepAliveResponse:
		return r.Code
	case *UnregisterResponse:
		return r.Code
	case *OperationResponse:
		return r.Code
	default:
		return CodeOK
	}
}
