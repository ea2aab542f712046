package swim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NodeID is the unique identity of a node. Two addresses with the same ID
// refer to the same node even if their location or parents differ.
type NodeID uint64

func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// NATType is the reachability class of a node.
type NATType uint8

const (
	// NATTypeOpen nodes are publicly reachable.
	NATTypeOpen NATType = iota
	// NATTypeNated nodes are behind a NAT and can only be reached via one of
	// their parents.
	NATTypeNated
)

func (t NATType) String() string {
	switch t {
	case NATTypeOpen:
		return "open"
	case NATTypeNated:
		return "nated"
	default:
		return "unknown"
	}
}

func (t NATType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *NATType) UnmarshalText(b []byte) error {
	nat, err := ParseNATType(string(b))
	if err != nil {
		return err
	}
	*t = nat
	return nil
}

func ParseNATType(s string) (NATType, error) {
	switch s {
	case "open":
		return NATTypeOpen, nil
	case "nated":
		return NATTypeNated, nil
	default:
		return NATTypeOpen, fmt.Errorf("unsupported nat type: %s", s)
	}
}

// PeerAddress is a nodes identity, network location, NAT class and, for
// nated nodes, the set of open parents that relay its traffic.
//
// Addresses are values. Updates replace the stored copy rather than
// mutating shared state, so any address handed out is safe to retain.
type PeerAddress struct {
	ID   NodeID  `json:"id" codec:"id"`
	Addr string  `json:"addr" codec:"addr"`
	NAT  NATType `json:"nat" codec:"nat"`
	// Parents is sorted by ID and contains no duplicates.
	Parents []PeerAddress `json:"parents,omitempty" codec:"parents,omitempty"`
}

func (a PeerAddress) IsOpen() bool {
	return a.NAT == NATTypeOpen
}

// Clone returns a deep copy of the address.
func (a PeerAddress) Clone() PeerAddress {
	clone := a
	if a.Parents != nil {
		clone.Parents = make([]PeerAddress, len(a.Parents))
		for i, p := range a.Parents {
			clone.Parents[i] = p.Clone()
		}
	}
	return clone
}

func (a PeerAddress) HasParent(id NodeID) bool {
	_, ok := a.parentIndex(id)
	return ok
}

// WithParent returns a copy of the address with the given parent added. If
// the parent is already present the copy is unchanged.
func (a PeerAddress) WithParent(parent PeerAddress) PeerAddress {
	clone := a.Clone()
	i, ok := clone.parentIndex(parent.ID)
	if ok {
		return clone
	}

	// Parents are open so never have parents of their own.
	parent = parent.Clone()
	parent.Parents = nil

	clone.Parents = append(clone.Parents, PeerAddress{})
	copy(clone.Parents[i+1:], clone.Parents[i:])
	clone.Parents[i] = parent
	return clone
}

// WithoutParent returns a copy of the address with the parent with the given
// ID removed.
func (a PeerAddress) WithoutParent(id NodeID) PeerAddress {
	clone := a.Clone()
	i, ok := clone.parentIndex(id)
	if !ok {
		return clone
	}
	clone.Parents = append(clone.Parents[:i], clone.Parents[i+1:]...)
	if len(clone.Parents) == 0 {
		clone.Parents = nil
	}
	return clone
}

// String formats the address as '<id>@<host>:<port>', with a '/nated' suffix
// for nated nodes. Parents are not included.
func (a PeerAddress) String() string {
	if a.NAT == NATTypeNated {
		return fmt.Sprintf("%d@%s/nated", a.ID, a.Addr)
	}
	return fmt.Sprintf("%d@%s", a.ID, a.Addr)
}

func (a PeerAddress) parentIndex(id NodeID) (int, bool) {
	i := sort.Search(len(a.Parents), func(i int) bool {
		return a.Parents[i].ID >= id
	})
	return i, i < len(a.Parents) && a.Parents[i].ID == id
}

// ParsePeerAddress parses an address in the format returned by
// PeerAddress.String, such as '3@10.26.104.14:7946' or
// '4@10.26.104.15:7946/nated'.
func ParsePeerAddress(s string) (PeerAddress, error) {
	idStr, rest, ok := strings.Cut(s, "@")
	if !ok {
		return PeerAddress{}, fmt.Errorf("missing node id: %s", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("invalid node id: %s: %w", idStr, err)
	}

	nat := NATTypeOpen
	if addr, natStr, ok := strings.Cut(rest, "/"); ok {
		nat, err = ParseNATType(natStr)
		if err != nil {
			return PeerAddress{}, err
		}
		rest = addr
	}
	if rest == "" {
		return PeerAddress{}, fmt.Errorf("missing addr: %s", s)
	}

	return PeerAddress{
		ID:   NodeID(id),
		Addr: rest,
		NAT:  nat,
	}, nil
}
