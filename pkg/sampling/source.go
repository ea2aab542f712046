package sampling

import (
	"context"
	"fmt"

	"github.com/andydunstall/swimrelay/pkg/swim"
)

// Source returns the addresses of known nodes.
type Source interface {
	Peers(ctx context.Context) ([]swim.PeerAddress, error)
}

// StaticSource is a fixed set of addresses, such as the configured bootstrap
// nodes.
type StaticSource []swim.PeerAddress

func (s StaticSource) Peers(_ context.Context) ([]swim.PeerAddress, error) {
	return s, nil
}

// MemberLister lists the members known by the local node.
type MemberLister interface {
	Members(ctx context.Context) ([]swim.Member, error)
}

// MembershipSource returns the alive members known by the local node.
type MembershipSource struct {
	lister MemberLister
}

func NewMembershipSource(lister MemberLister) *MembershipSource {
	return &MembershipSource{lister: lister}
}

func (s *MembershipSource) Peers(ctx context.Context) ([]swim.PeerAddress, error) {
	members, err := s.lister.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}

	var addrs []swim.PeerAddress
	for _, m := range members {
		if m.State != swim.MemberStateAlive {
			continue
		}
		addrs = append(addrs, m.Address)
	}
	return addrs, nil
}

var _ Source = StaticSource{}
var _ Source = &MembershipSource{}
