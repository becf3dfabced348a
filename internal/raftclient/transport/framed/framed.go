// Package framed is a concrete Transport for raftclient.Client, passed
// in with raftclient.WithTransport (raftclient.New does not select one
// when it is omitted): a
// length-prefixed, JSON-framed client over net.Conn, in the style of
// internal/cli/connection's bufio-framed socket client and its
// timeout-bounded HTTP client.
package framed

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmesh/cluster-go/internal/raftclient"
)

const maxFrameSize = 16 << 20 // 16 MiB, generous for a command/query payload

// envelope is the on-wire frame: a type tag, a correlation id (zero
// for server-initiated messages that expect no reply), and the
// marshaled message.
type envelope struct {
	Kind    string          `json:"kind"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Transport dials TCP (optionally TLS) and speaks the framed JSON
// protocol. DialTimeout bounds the handshake only; request/response
// timing is governed by the caller's context.
type Transport struct {
	DialTimeout time.Duration
	// TLSConfig, if set, upgrades every dial to TLS — typically built
	// from an internal/infra/tlsroots.Pool rather than a bare literal.
	TLSConfig *tls.Config
}

// New returns a Transport with a sensible default dial timeout and no
// TLS.
func New() *Transport {
	return &Transport{DialTimeout: 5 * time.Second}
}

func (t *Transport) Connect(ctx context.Context, addr raftclient.Address) (raftclient.Connection, error) {
	dialer := net.Dialer{Timeout: t.DialTimeout}
	var nc net.Conn
	var err error
	if t.TLSConfig != nil {
		nc, err = tls.DialWithDialer(&dialer, "tcp", addr.String(), t.TLSConfig)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("framed: dial %s: %w", addr.String(), err)
	}
	c := &conn{
		nc:       nc,
		w:        bufio.NewWriter(nc),
		r:        bufio.NewReader(nc),
		waiters:  make(map[uint64]waiter),
		handlers: make(map[string]func(any)),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type waiter struct {
	decode func(json.RawMessage) (any, error)
	out    chan result
}

type result struct {
	val any
	err error
}

// conn implements raftclient.Connection over one net.Conn.
type conn struct {
	nc net.Conn

	writeMu sync.Mutex
	w       *bufio.Writer
	r       *bufio.Reader

	nextID uint64

	mu       sync.Mutex
	waiters  map[uint64]waiter
	handlers map[string]func(any)

	closeOnce   sync.Once
	closed      chan struct{}
	onCloseMu   sync.Mutex
	onClose     []func(error)
	onException []func(error)
}

func (c *conn) Handler(msgType string, fn func(any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

func (c *conn) OnClose(fn func(error)) {
	c.onCloseMu.Lock()
	defer c.onCloseMu.Unlock()
	c.onClose = append(c.onClose, fn)
}

func (c *conn) OnException(fn func(error)) {
	c.onCloseMu.Lock()
	defer c.onCloseMu.Unlock()
	c.onException = append(c.onException, fn)
}

func (c *conn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
		c.failAllWaiters(fmt.Errorf("framed: connection closed"))
		c.fireClose(nil)
	})
	return err
}

func (c *conn) fireClose(cause error) {
	c.onCloseMu.Lock()
	listeners := append([]func(error){}, c.onClose...)
	c.onCloseMu.Unlock()
	for _, fn := range listeners {
		fn(cause)
	}
}

func (c *conn) fireException(cause error) {
	c.onCloseMu.Lock()
	listeners := append([]func(error){}, c.onException...)
	c.onCloseMu.Unlock()
	for _, fn := range listeners {
		fn(cause)
	}
}

func (c *conn) failAllWaiters(err error) {
	c.mu.Lock()
	pending := c.waiters
	c.waiters = make(map[uint64]waiter)
	c.mu.Unlock()
	for _, w := range pending {
		w.out <- result{err: err}
	}
}

// Send writes req and does not wait for a reply.
func (c *conn) Send(ctx context.Context, req any) error {
	kind, _, err := classify(req)
	if err != nil {
		return err
	}
	return c.writeEnvelope(kind, 0, req)
}

// SendAndReceive writes req and blocks until its matching response
// arrives, the connection closes, or ctx is done.
func (c *conn) SendAndReceive(ctx context.Context, req any) (any, error) {
	kind, newResp, err := classify(req)
	if err != nil {
		return nil, err
	}
	id := atomic.AddUint64(&c.nextID, 1)
	out := make(chan result, 1)
	decode := func(raw json.RawMessage) (any, error) {
		resp := newResp()
		if err := json.Unmarshal(raw, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	c.mu.Lock()
	c.waiters[id] = waiter{decode: decode, out: out}
	c.mu.Unlock()

	if err := c.writeEnvelope(kind, id, req); err != nil {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case r := <-out:
		return r.val, r.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("framed: connection closed while awaiting response")
	}
}

func (c *conn) writeEnvelope(kind string, id uint64, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("framed: marshal %s: %w", kind, err)
	}
	frame, err := json.Marshal(envelope{Kind: kind, ID: id, Payload: payload})
	if err != nil {
		return fmt.Errorf("framed: marshal envelope: %w", err)
	}
	if len(frame) > maxFrameSize {
		return fmt.Errorf("framed: outgoing frame too large (%d bytes)", len(frame))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(frame); err != nil {
		return err
	}
	return c.w.Flush()
}

// readLoop decodes inbound frames until the connection errors or
// closes, dispatching each to its waiter (request/response) or
// handler (server-initiated message, e.g. PublishEvent).
func (c *conn) readLoop() {
	for {
		frame, err := readFrame(c.r)
		if err != nil {
			c.failAllWaiters(err)
			c.closeOnce.Do(func() {
				close(c.closed)
				_ = c.nc.Close()
			})
			c.fireException(err)
			c.fireClose(err)
			return
		}

		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.fireException(fmt.Errorf("framed: decode envelope: %w", err))
			continue
		}

		if env.ID != 0 {
			c.mu.Lock()
			w, ok := c.waiters[env.ID]
			if ok {
				delete(c.waiters, env.ID)
			}
			c.mu.Unlock()
			if !ok {
				continue
			}
			val, decErr := w.decode(env.Payload)
			w.out <- result{val: val, err: decErr}
			continue
		}

		c.dispatchAsync(env)
	}
}

func (c *conn) dispatchAsync(env envelope) {
	c.mu.Lock()
	fn, ok := c.handlers[env.Kind]
	c.mu.Unlock()
	if !ok {
		return
	}
	msg, err := decodeAsync(env.Kind, env.Payload)
	if err != nil {
		c.fireException(fmt.Errorf("framed: decode %s: %w", env.Kind, err))
		return
	}
	fn(msg)
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("framed: incoming frame too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// classify maps a raftclient request to its wire kind and the
// decoder for its response.
func classify(req any) (kind string, newResp func() any, err error) {
	switch req.(type) {
	case *raftclient.ConnectRequest:
		return "Connect", func() any { return &raftclient.ConnectResponse{} }, nil
	case *raftclient.RegisterRequest:
		return "Register", func() any { return &raftclient.RegisterResponse{} }, nil
	case *raftclient.KeepAliveRequest:
		return "KeepAlive", func() any { return &raftclient.KeepAliveResponse{} }, nil
	case *raftclient.UnregisterRequest:
		return "Unregister", func() any { return &raftclient.UnregisterResponse{} }, nil
	case *raftclient.CommandRequest:
		return "Command", func() any { return &raftclient.OperationResponse{} }, nil
	case *raftclient.QueryRequest:
		return "Query", func() any { return &raftclient.OperationResponse{} }, nil
	default:
		return "", nil, fmt.Errorf("framed: unrecognized request type %T", req)
	}
}

// decodeAsync maps a server-initiated message kind to its concrete
// type. PublishEvent is the only one the client core subscribes to
// today; new kinds are added here as the wire protocol grows.
func decodeAsync(kind string, payload json.RawMessage) (any, error) {
	switch kind {
	case "PublishEvent":
		var ev raftclient.PublishEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
}
