package raftclient

import "fmt"

// Address identifies one candidate server by host and port. It is a
// plain comparable value, never a pointer, so it can be used as a map
// key and compared with ==.
type Address struct {
	Host string
	Port int
}

// String renders the address in host:port form.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// MembershipView is an ordered list of candidate servers plus an
// optional distinguished leader. If Leader is non-nil it must also
// appear in Members; callers constructing a view are responsible for
// that invariant, and dedupMembers below re-establishes it.
type MembershipView struct {
	Leader  *Address
	Members []Address
}

// dedupMembers returns members in their original order with duplicates
// removed, and appends leader if it is set but absent from members.
func dedupMembers(leader *Address, members []Address) []Address {
	seen := make(map[Address]bool, len(members)+1)
	out := make([]Address, 0, len(members)+1)
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	if leader != nil && !seen[*leader] {
		out = append(out, *leader)
	}
	return out
}
