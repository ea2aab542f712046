package sampling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

func openAddr(id swim.NodeID) swim.PeerAddress {
	return swim.PeerAddress{ID: id, Addr: "10.0.0." + id.String() + ":7946"}
}

type errorSource struct{}

func (s errorSource) Peers(_ context.Context) ([]swim.PeerAddress, error) {
	return nil, errors.New("unavailable")
}

type fakeLister struct {
	members []swim.Member
}

func (l *fakeLister) Members(_ context.Context) ([]swim.Member, error) {
	return l.members, nil
}

func TestSampler_Sample(t *testing.T) {
	t.Run("open only", func(t *testing.T) {
		nated := openAddr(3)
		nated.NAT = swim.NATTypeNated

		conf := Default()
		s := NewSampler(
			conf,
			[]Source{StaticSource{openAddr(1), openAddr(2), nated}},
			1,
			clock.NewMock(),
			log.NewNopLogger(),
		)

		sample, err := s.Sample(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, []swim.PeerAddress{openAddr(1), openAddr(2)}, sample)
	})

	t.Run("size", func(t *testing.T) {
		var addrs StaticSource
		for id := swim.NodeID(1); id != 20; id++ {
			addrs = append(addrs, openAddr(id))
		}

		conf := Default()
		conf.Size = 4
		s := NewSampler(conf, []Source{addrs}, 1, clock.NewMock(), log.NewNopLogger())

		sample, err := s.Sample(context.Background())
		require.NoError(t, err)
		assert.Len(t, sample, 4)

		seen := make(map[swim.NodeID]bool)
		for _, addr := range sample {
			assert.False(t, seen[addr.ID])
			seen[addr.ID] = true
		}
	})

	t.Run("merge sources", func(t *testing.T) {
		lister := &fakeLister{members: []swim.Member{
			{Address: openAddr(2), State: swim.MemberStateAlive},
			{Address: openAddr(3), State: swim.MemberStateAlive},
			{Address: openAddr(4), State: swim.MemberStateDead},
			{Address: openAddr(5), State: swim.MemberStateSuspected},
		}}

		s := NewSampler(
			Default(),
			[]Source{
				StaticSource{openAddr(1), openAddr(2)},
				NewMembershipSource(lister),
				errorSource{},
			},
			1,
			clock.NewMock(),
			log.NewNopLogger(),
		)

		sample, err := s.Sample(context.Background())
		assert.Error(t, err)
		assert.ElementsMatch(
			t,
			[]swim.PeerAddress{openAddr(1), openAddr(2), openAddr(3)},
			sample,
		)
	})
}

func TestSampler_Run(t *testing.T) {
	mock := clock.NewMock()
	conf := Default()
	s := NewSampler(
		conf,
		[]Source{StaticSource{openAddr(1)}},
		1,
		mock,
		log.NewNopLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- s.Run(ctx)
	}()

	// The first sample is emitted immediately.
	select {
	case sample := <-s.Samples():
		assert.Equal(t, []swim.PeerAddress{openAddr(1)}, sample)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}

	assert.Eventually(t, func() bool {
		mock.Add(conf.Interval)
		select {
		case sample := <-s.Samples():
			return len(sample) == 1
		default:
			return false
		}
	}, time.Second, time.Millisecond*10)

	cancel()
	select {
	case err := <-doneCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sampler to stop")
	}
}
