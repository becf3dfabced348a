package raftclient

import (
	"context"
	"sync"
)

// fakeTransport is a test double for Transport: Connect delegates to a
// caller-supplied function so each test can script per-address
// behavior (accept, refuse, hang).
type fakeTransport struct {
	mu           sync.Mutex
	connectFunc  func(ctx context.Context, addr Address) (Connection, error)
	connectCount int
	connected    []Address
}

func (t *fakeTransport) Connect(ctx context.Context, addr Address) (Connection, error) {
	t.mu.Lock()
	t.connectCount++
	t.connected = append(t.connected, addr)
	t.mu.Unlock()
	return t.connectFunc(ctx, addr)
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCount
}

// scriptedConn is a test double for Connection. respond is invoked for
// every SendAndReceive call; Send calls are recorded and succeed
// unless sendErr is set.
type scriptedConn struct {
	mu      sync.Mutex
	closed  bool
	sendErr error
	respond func(req any) (any, error)

	handlers    map[string]func(any)
	onClose     []func(error)
	onException []func(error)
	sent        []any
}

func newScriptedConn(respond func(req any) (any, error)) *scriptedConn {
	return &scriptedConn{
		respond:  respond,
		handlers: make(map[string]func(any)),
	}
}

func (c *scriptedConn) Send(ctx context.Context, req any) error {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	err := c.sendErr
	c.mu.Unlock()
	return err
}

func (c *scriptedConn) SendAndReceive(ctx context.Context, req any) (any, error) {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	c.mu.Unlock()
	return c.respond(req)
}

func (c *scriptedConn) Handler(msgType string, fn func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

func (c *scriptedConn) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

func (c *scriptedConn) OnException(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onException = append(c.onException, fn)
}

func (c *scriptedConn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cbs := append([]func(error){}, c.onClose...)
	c.mu.Unlock()
	for _, fn := range cbs {
		fn(nil)
	}
	return nil
}

// deliver simulates a server-initiated message (e.g. PublishEvent)
// arriving on this connection.
func (c *scriptedConn) deliver(msgType string, msg any) {
	c.mu.Lock()
	fn := c.handlers[msgType]
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// okConnect builds a respond func that accepts a ConnectRequest with
// the given leader/members and fails everything else.
func okConnect(leader *Address, members []Address) func(req any) (any, error) {
	return func(req any) (any, error) {
		if _, ok := req.(*ConnectRequest); ok {
			return &ConnectResponse{Status: StatusOK, Leader: leader, Members: members}, nil
		}
		return nil, errUnhandled
	}
}

var errUnhandled = &Error{Code: "TEST-001", Message: "unhandled request in test script"}
