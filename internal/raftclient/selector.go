package raftclient

import "sync"

// State is the Address Selector's variant per §3: ITERATING while a
// sweep is in progress, RESET once a new membership view has arrived
// and superseded the cursor.
type State int

const (
	StateIterating State = iota
	StateReset
)

func (s State) String() string {
	if s == StateReset {
		return "RESET"
	}
	return "ITERATING"
}

// Selector chooses which server to contact next, biased toward the
// believed leader (§4.A). It is only ever touched from the connection
// manager's single execution context (§5), so it uses a plain mutex
// rather than an atomic/lock-free structure, matching the rest of the
// package's "one writer at a time" style.
type Selector struct {
	mu sync.Mutex

	bootstrap []Address // the caller-seeded candidate list, never mutated after construction
	leader    *Address
	members   []Address // deduped, deterministic order; current known view

	order []Address // computed sweep order: leader first, then members
	idx   int

	state State
}

// NewSelector seeds the selector with the caller-provided bootstrap
// member list (§1 Non-goals: the caller seeds it, the selector never
// discovers it out-of-band).
func NewSelector(members []Address) *Selector {
	s := &Selector{
		bootstrap: append([]Address(nil), members...),
	}
	s.members = append([]Address(nil), s.bootstrap...)
	s.rebuildOrder()
	return s
}

// Reset clears the leader and restores the full candidate list,
// transitioning to RESET (§4.A).
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = nil
	s.members = append([]Address(nil), s.bootstrap...)
	s.rebuildOrder()
	s.state = StateReset
}

// ResetWithView adopts a new membership view (as returned by a
// Connect/Register/KeepAlive response) and transitions to RESET.
func (s *Selector) ResetWithView(leader *Address, members []Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
	s.members = dedupMembers(leader, members)
	s.rebuildOrder()
	s.state = StateReset
}

// rebuildOrder computes the current sweep order: leader first (if
// known), then the remaining members in their given order, each
// appearing at most once. Must be called with mu held.
func (s *Selector) rebuildOrder() {
	order := make([]Address, 0, len(s.members)+1)
	if s.leader != nil {
		order = append(order, *s.leader)
	}
	for _, m := range s.members {
		if s.leader != nil && m == *s.leader {
			continue
		}
		order = append(order, m)
	}
	s.order = order
	s.idx = 0
}

// HasNext reports whether the current sweep has an untried candidate
// remaining.
func (s *Selector) HasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx < len(s.order)
}

// Next returns the next candidate in the current sweep. Each candidate
// is attempted at most once per sweep. Calling Next after exhaustion
// panics; callers must check HasNext first.
func (s *Selector) Next() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.order) {
		panic("raftclient: Selector.Next called with no candidates remaining")
	}
	addr := s.order[s.idx]
	s.idx++
	return addr
}

// Leader returns the believed leader, or nil if unknown.
func (s *Selector) Leader() *Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leader == nil {
		return nil
	}
	l := *s.leader
	return &l
}

// Servers returns the current known member list.
func (s *Selector) Servers() []Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Address(nil), s.members...)
}

// StateValue peeks at the current state without consuming the RESET
// latch (for observers and tests; the Connection Manager uses
// ConsumeResetLatch instead).
func (s *Selector) StateValue() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConsumeResetLatch reports whether the selector is in RESET and, if
// so, flips it back to ITERATING as a one-shot latch (§4.A: "the
// Connection Manager observes it once ... and then treats the selector
// as ITERATING again"). This is deliberately observed at the single
// call site in the Connection Manager's getConnection path (§9 "Open
// question — RESET race": a membership update always forces a
// reconnect check, even if the current connection still points at the
// leader).
func (s *Selector) ConsumeResetLatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReset {
		return false
	}
	s.state = StateIterating
	return true
}
