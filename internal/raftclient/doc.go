// Package raftclient is the fault-tolerant client core for a
// Raft-backed replicated state-machine cluster.
//
// It lets an application submit ordered commands and queries to a
// cluster of servers and receive their results while surviving server
// failures, leader changes, and network partitions. The package is
// organized leaves-first:
//
//   - address.go:  Address and MembershipView value types
//   - selector.go: candidate iteration with leader bias (component A)
//   - errors.go:   error taxonomy and wire status codes
//   - transport.go: Transport/Connection interfaces and wire messages
//   - connmgr.go:  single active connection, handshake, failover (component B)
//   - execloop.go: single-goroutine ordered dispatch ("the session thread")
//   - pipeline.go: sequence assignment, ordered completion, retry (component C)
//   - session.go:  registration, keep-alive, event delivery, expiration (component D)
//   - metrics.go:  Prometheus counters and a connect-latency histogram
//   - client.go:   public submit/open/close surface (component E)
//
// The wire transport, the payload serializer, the Raft server, and the
// state machine are external collaborators and are not implemented
// here; see internal/raftclient/transport/framed for a concrete
// transport, which callers pass in with WithTransport.
package raftclient
