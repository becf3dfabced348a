package raftclient

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmesh/cluster-go/internal/telemetry/logger"
)

// OpKind distinguishes a state-mutating Command from a read-only Query
// in a submission built by the Command/Query constructors (§4.E).
type OpKind int

const (
	KindCommand OpKind = iota
	KindQuery
)

// Op is a single submission: either a Command or a Query, never both.
// Construct one with Command or Query rather than the struct literal.
type Op struct {
	Kind        OpKind
	Consistency Consistency
	Payload     []byte
	Index       uint64 // query read-index/sequence bound; ignored for commands
}

// Command builds a state-mutating submission (§4.C).
func Command(consistency Consistency, payload []byte) Op {
	return Op{Kind: KindCommand, Consistency: consistency, Payload: payload}
}

// Query builds a read-only submission. index pins a read bound; zero
// means "whatever the server's current state allows" (§4.C).
func Query(consistency Consistency, index uint64, payload []byte) Op {
	return Op{Kind: KindQuery, Consistency: consistency, Index: index, Payload: payload}
}

// Config is the client's construction-time configuration (§6.3).
type Config struct {
	Members            []Address
	Transport          Transport
	Logger             logger.Logger
	MetricsRegisterer  prometheus.Registerer
	SessionTimeoutHint time.Duration
}

func (c Config) validate() error {
	if c.Transport == nil {
		return ErrMissingTransport
	}
	if len(c.Members) == 0 {
		return ErrInvalidMembers
	}
	return nil
}

// Option configures a Client via New.
type Option func(*Config)

// WithTransport sets the transport used to reach candidate servers.
// Required: New fails with ErrMissingTransport if omitted.
func WithTransport(t Transport) Option { return func(c *Config) { c.Transport = t } }

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetricsRegisterer overrides the Prometheus registerer metrics
// are registered against. Passing nil (the default) uses a private,
// unregistered registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) { c.MetricsRegisterer = reg }
}

// WithSessionTimeoutHint sets the advisory session timeout proposed at
// registration; the cluster's effective timeout in the response is
// always authoritative (§4.D.1).
func WithSessionTimeoutHint(d time.Duration) Option {
	return func(c *Config) { c.SessionTimeoutHint = d }
}

// Client is the public façade over the Selector, Connection Manager,
// and Session (§4.E). It is safe for concurrent use.
type Client struct {
	cfg      Config
	clientID string
	logger   logger.Logger
	metrics  *Metrics

	mu          sync.Mutex
	session     *Session
	openFuture  *Future
	closeFuture *Future
	isOpenFlag  bool
}

// New constructs a Client from members and options. It does not
// connect; call Open for that.
func New(members []Address, opts ...Option) (*Client, error) {
	cfg := Config{Members: append([]Address(nil), members...)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		cfg:      cfg,
		clientID: newClientID(),
		logger:   log,
		metrics:  NewMetrics(cfg.MetricsRegisterer),
	}, nil
}

func newClientID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return "tmrc-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Open idempotently brings the client to the OPEN state (§4.E): a
// second call while already open returns an already-completed success
// future; a call while an open is already in flight returns that same
// future; a call while a close is in flight composes after the close
// completes, never racing ahead of it.
func (c *Client) Open(ctx context.Context) *Future {
	c.mu.Lock()
	if c.isOpenFlag && c.closeFuture == nil {
		c.mu.Unlock()
		return completedFuture(struct{}{})
	}
	if c.openFuture != nil {
		f := c.openFuture
		c.mu.Unlock()
		return f
	}
	priorClose := c.closeFuture
	fut := newFuture()
	c.openFuture = fut
	c.mu.Unlock()

	go func() {
		if priorClose != nil {
			priorClose.Wait(context.Background())
		}
		err := c.doOpen(ctx)
		c.mu.Lock()
		c.openFuture = nil
		if err == nil {
			c.isOpenFlag = true
		}
		c.mu.Unlock()
		fut.complete(struct{}{}, err)
	}()
	return fut
}

func (c *Client) doOpen(ctx context.Context) error {
	selector := NewSelector(c.cfg.Members)
	cm := NewConnectionManager(c.cfg.Transport, selector, c.clientID, c.logger, c.metrics)
	session := NewSession(c.clientID, cm, c.logger, c.metrics)
	if err := session.Open(ctx, c.cfg.SessionTimeoutHint); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

// Close idempotently tears the client down (§4.E): symmetric with
// Open, and composes after a pending open rather than racing it.
func (c *Client) Close(ctx context.Context) *Future {
	c.mu.Lock()
	if !c.isOpenFlag && c.session == nil && c.openFuture == nil {
		c.mu.Unlock()
		return completedFuture(struct{}{})
	}
	if c.closeFuture != nil {
		f := c.closeFuture
		c.mu.Unlock()
		return f
	}
	priorOpen := c.openFuture
	fut := newFuture()
	c.closeFuture = fut
	c.mu.Unlock()

	go func() {
		if priorOpen != nil {
			priorOpen.Wait(context.Background())
		}
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()
		var err error
		if session != nil {
			err = session.Close(ctx)
		}
		c.mu.Lock()
		c.closeFuture = nil
		c.isOpenFlag = false
		c.session = nil
		c.mu.Unlock()
		fut.complete(struct{}{}, err)
	}()
	return fut
}

// IsOpen reports whether the client is currently open.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpenFlag
}

// IsClosed reports whether the client has no session and no open in
// flight.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.isOpenFlag && c.session == nil && c.openFuture == nil
}

// Session returns the current session, or nil if the client isn't
// open.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Submit dispatches op to the command or query path based on its
// Kind (§4.E). Submitting anything other than a well-formed Op fails
// with ErrInvalidOperation; submitting while not open fails with
// ErrNotOpen.
func (c *Client) Submit(ctx context.Context, op Op) *Future {
	sess := c.Session()
	if sess == nil {
		return failedFuture(ErrNotOpen)
	}
	if c.metrics != nil {
		c.metrics.RequestsSubmitted.Inc()
	}
	switch op.Kind {
	case KindCommand:
		return sess.SubmitCommand(ctx, op.Consistency, op.Payload)
	case KindQuery:
		return sess.SubmitQuery(ctx, op.Consistency, op.Index, op.Payload)
	default:
		return failedFuture(ErrInvalidOperation)
	}
}

func completedFuture(result any) *Future {
	f := newFuture()
	f.complete(result, nil)
	return f
}
