package raftclient

import (
	"context"
	"time"
)

// Transport is the pluggable, consumed collaborator that opens
// connections to candidate servers (§6.1). The wire framing,
// serialization, and network protocol are entirely its concern; the
// client core only ever calls Connect.
type Transport interface {
	Connect(ctx context.Context, addr Address) (Connection, error)
}

// Connection is one live transport session with a single server
// (§6.1, §3 "Connection handle"). At most one Connection is active per
// Connection Manager at any instant.
type Connection interface {
	// Send dispatches req without waiting for a response.
	Send(ctx context.Context, req any) error
	// SendAndReceive dispatches req and waits for the matching response.
	SendAndReceive(ctx context.Context, req any) (any, error)
	// Handler registers a callback for inbound messages of the given
	// type (e.g. "PublishEvent"). Re-registering the same type
	// replaces the previous callback.
	Handler(msgType string, fn func(any))
	// OnClose registers a callback invoked when the connection closes,
	// whether locally or remotely initiated.
	OnClose(fn func(error))
	// OnException registers a callback invoked on a transport-level
	// protocol violation distinct from an orderly close.
	OnException(fn func(error))
	// Close closes the connection.
	Close(ctx context.Context) error
}

// Status is the outcome of a request/response round trip (§6.2).
type Status int

const (
	StatusOK Status = iota
	StatusError
)

// Consistency is the level attached to a command or query. The client
// never satisfies these itself; it only carries them on the wire and
// never reorders or non-idempotently retries a request of a given
// session (§4.C).
type Consistency int

const (
	ConsistencyCausal Consistency = iota
	ConsistencySequential
	ConsistencyBoundedLinearizable // queries only
	ConsistencyLinearizable
)

// ConnectRequest is the first message sent on a freshly opened
// transport connection (§4.B.3, §6.2).
type ConnectRequest struct {
	ClientID string
}

// ConnectResponse answers a ConnectRequest.
type ConnectResponse struct {
	Status  Status
	Code    Code
	Leader  *Address
	Members []Address
}

// RegisterRequest opens a session against the cluster (§4.D.1).
type RegisterRequest struct {
	ClientID    string
	TimeoutHint time.Duration
}

// RegisterResponse answers a RegisterRequest. Timeout is authoritative;
// the client must derive its keep-alive period from it and must not
// use its own hint.
type RegisterResponse struct {
	Status    Status
	Code      Code
	SessionID string
	Timeout   time.Duration
	Leader    *Address
	Members   []Address
}

// KeepAliveRequest is submitted at every keep-alive interval (§4.D.2).
// It carries a Sequence like any other pipeline request so it shares
// the sequence space with commands and queries (§5) and is retried the
// same way.
type KeepAliveRequest struct {
	SessionID       string
	Sequence        uint64
	CommandSequence uint64
	EventIndex      uint64
}

// KeepAliveResponse answers a KeepAliveRequest and may update the
// membership view.
type KeepAliveResponse struct {
	Status  Status
	Code    Code
	Leader  *Address
	Members []Address
}

// UnregisterRequest gracefully tears down a session (§4.D.4).
type UnregisterRequest struct {
	SessionID string
}

// UnregisterResponse answers an UnregisterRequest.
type UnregisterResponse struct {
	Status Status
	Code   Code
}

// CommandRequest mutates the replicated state machine.
type CommandRequest struct {
	SessionID   string
	Sequence    uint64
	Consistency Consistency
	Payload     []byte
}

// QueryRequest reads the replicated state machine.
type QueryRequest struct {
	SessionID   string
	Sequence    uint64
	Consistency Consistency
	Index       uint64
	Payload     []byte
}

// OperationResponse answers a CommandRequest or QueryRequest.
type OperationResponse struct {
	Status     Status
	Code       Code
	Index      uint64
	EventIndex uint64
	Result     []byte
}

// PublishEvent is a server-published session event (§4.D.3, §6.2),
// delivered asynchronously as an inbound message on the connection
// rather than as a request/response round trip.
type PublishEvent struct {
	SessionID     string
	EventIndex    uint64
	PreviousIndex uint64
	Name          string
	Payload       []byte
}

// Event is what a registered listener actually observes, stripped of
// session/index bookkeeping the caller doesn't need.
type Event struct {
	Name    string
	Index   uint64
	Payload []byte
}

// Result is the outcome of a successfully completed command or query.
type Result struct {
	Index      uint64
	EventIndex uint64
	Payload    []byte
}
