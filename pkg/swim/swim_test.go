package swim

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/transport"
)

func testConfig() *Config {
	conf := Default()
	conf.ProbeInterval = time.Millisecond * 20
	conf.StatusInterval = time.Millisecond * 50
	conf.AckTimeout = time.Millisecond * 50
	conf.DeleteRequestTimeout = time.Millisecond * 50
	conf.IndirectProbeTimeout = time.Millisecond * 150
	conf.DeadTimeout = time.Millisecond * 400
	conf.ParentPingInterval = time.Millisecond * 20
	conf.ParentAckTimeout = time.Millisecond * 100
	return conf
}

type staticSampler struct {
	ch chan []PeerAddress
}

func (s *staticSampler) Samples() <-chan []PeerAddress {
	return s.ch
}

type testNode struct {
	swim     *Swim
	endpoint *transport.Endpoint
	addr     PeerAddress
}

// stop closes the node and waits for its event loop to exit.
func (n *testNode) stop() {
	n.swim.Close()
	<-n.swim.doneCh
	n.endpoint.Close()
}

func startNode(
	t *testing.T,
	network *transport.Network,
	addr PeerAddress,
	opts ...Option,
) *testNode {
	t.Helper()

	var endpoint *transport.Endpoint
	var err error
	if addr.IsOpen() {
		endpoint, err = network.Listen(addr.Addr)
	} else {
		endpoint, err = network.ListenNated(addr.Addr)
	}
	require.NoError(t, err)

	opts = append([]Option{WithSeed(int64(addr.ID))}, opts...)
	s, err := New(addr, testConfig(), endpoint, opts...)
	require.NoError(t, err)

	go func() {
		_ = s.Run(context.Background())
	}()

	n := &testNode{swim: s, endpoint: endpoint, addr: addr}
	t.Cleanup(n.stop)
	return n
}

// aliveMembers returns the IDs of the alive members known by the node.
func aliveMembers(t *testing.T, n *testNode) []NodeID {
	t.Helper()

	members, err := n.swim.Members(context.Background())
	require.NoError(t, err)

	var ids []NodeID
	for _, m := range members {
		if m.State == MemberStateAlive {
			ids = append(ids, m.Address.ID)
		}
	}
	return ids
}

func TestSwim_Converge(t *testing.T) {
	network := transport.NewNetwork(1)

	seed := startNode(t, network, testAddr(1))
	nodes := []*testNode{seed}
	for id := NodeID(2); id != 6; id++ {
		nodes = append(nodes, startNode(
			t, network, testAddr(id), WithBootstrap([]PeerAddress{testAddr(1)}),
		))
	}

	for _, n := range nodes {
		n := n
		assert.Eventually(t, func() bool {
			return len(aliveMembers(t, n)) == len(nodes)-1
		}, time.Second*5, time.Millisecond*20, "node %s", n.addr)
	}
}

func TestSwim_DetectFailure(t *testing.T) {
	network := transport.NewNetwork(1)

	var nodes []*testNode
	for id := NodeID(1); id != 6; id++ {
		nodes = append(nodes, startNode(
			t, network, testAddr(id), WithBootstrap([]PeerAddress{testAddr(1)}),
		))
	}
	for _, n := range nodes {
		n := n
		require.Eventually(t, func() bool {
			return len(aliveMembers(t, n)) == len(nodes)-1
		}, time.Second*5, time.Millisecond*20)
	}

	failed := nodes[4]
	failed.stop()

	for _, n := range nodes[:4] {
		n := n
		assert.Eventually(t, func() bool {
			m, ok, err := n.swim.Member(context.Background(), failed.addr.ID)
			require.NoError(t, err)
			return ok && m.State == MemberStateDead
		}, time.Second*5, time.Millisecond*20, "node %s", n.addr)
	}
}

// Tests a nated node joins the cluster, and open nodes reach it through its
// parents.
func TestSwim_NatedNode(t *testing.T) {
	network := transport.NewNetwork(1)

	var open []*testNode
	for id := NodeID(1); id != 4; id++ {
		open = append(open, startNode(
			t, network, testAddr(id), WithBootstrap([]PeerAddress{testAddr(1)}),
		))
	}

	samples := make(chan []PeerAddress, 1)
	self := natedAddr(4).WithParent(testAddr(1))
	nated := startNode(
		t,
		network,
		self,
		WithBootstrap([]PeerAddress{testAddr(1)}),
		WithSampler(&staticSampler{ch: samples}),
	)

	// Every open node learns about the nated node.
	for _, n := range open {
		n := n
		assert.Eventually(t, func() bool {
			m, ok, err := n.swim.Member(context.Background(), 4)
			require.NoError(t, err)
			return ok && m.State == MemberStateAlive
		}, time.Second*5, time.Millisecond*20, "node %s", n.addr)
	}
	assert.Eventually(t, func() bool {
		return len(aliveMembers(t, nated)) == len(open)
	}, time.Second*5, time.Millisecond*20)

	// Adding a parent is gossiped to the open nodes.
	samples <- []PeerAddress{testAddr(2), natedAddr(5)}

	assert.Eventually(t, func() bool {
		addr, err := nated.swim.LocalAddress(context.Background())
		require.NoError(t, err)
		return addr.HasParent(1) && addr.HasParent(2) && !addr.HasParent(5)
	}, time.Second*5, time.Millisecond*20)

	for _, n := range open {
		n := n
		assert.Eventually(t, func() bool {
			m, ok, err := n.swim.Member(context.Background(), 4)
			require.NoError(t, err)
			return ok && m.Address.HasParent(2)
		}, time.Second*5, time.Millisecond*20, "node %s", n.addr)
	}

	// The nated node stays alive while relayed through its parents.
	time.Sleep(testConfig().DeadTimeout)
	for _, n := range open {
		m, ok, err := n.swim.Member(context.Background(), 4)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, MemberStateDead, m.State)
	}
}

// Tests two nated nodes that can only reach each other through their shared
// parent. The parent re-wraps each source-relay packet as a relay packet to
// the destination.
func TestSwim_NatedToNated(t *testing.T) {
	network := transport.NewNetwork(1)

	parent := startNode(t, network, testAddr(1))

	nated4 := natedAddr(4).WithParent(testAddr(1))
	nated5 := natedAddr(5).WithParent(testAddr(1))
	// Block the direct links so every packet between the nated nodes must
	// be relayed.
	network.Block(nated4.Addr, nated5.Addr)
	network.Block(nated5.Addr, nated4.Addr)

	n4 := startNode(t, network, nated4, WithBootstrap([]PeerAddress{testAddr(1)}))
	n5 := startNode(t, network, nated5, WithBootstrap([]PeerAddress{testAddr(1)}))

	for _, pair := range []struct {
		node *testNode
		peer NodeID
	}{
		{n4, 5},
		{n5, 4},
	} {
		pair := pair
		assert.Eventually(t, func() bool {
			m, ok, err := pair.node.swim.Member(context.Background(), pair.peer)
			require.NoError(t, err)
			return ok && m.State == MemberStateAlive && m.Address.HasParent(1)
		}, time.Second*5, time.Millisecond*20, "node %s", pair.node.addr)
	}

	// The nodes keep probing each other through the parent without being
	// declared dead.
	time.Sleep(testConfig().DeadTimeout)
	for _, pair := range []struct {
		node *testNode
		peer NodeID
	}{
		{n4, 5},
		{n5, 4},
	} {
		m, ok, err := pair.node.swim.Member(context.Background(), pair.peer)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, MemberStateDead, m.State, "node %s", pair.node.addr)
	}

	assert.Greater(t, testutil.ToFloat64(parent.swim.metrics.PacketsRelayed), float64(0))
}

// Tests a nated node drops a parent that stops responding.
func TestSwim_DeadParent(t *testing.T) {
	network := transport.NewNetwork(1)

	parent1 := startNode(t, network, testAddr(1))
	startNode(t, network, testAddr(2), WithBootstrap([]PeerAddress{testAddr(1)}))

	self := natedAddr(4).WithParent(testAddr(1)).WithParent(testAddr(2))
	nated := startNode(t, network, self, WithBootstrap([]PeerAddress{testAddr(1)}))

	assert.Eventually(t, func() bool {
		return len(aliveMembers(t, nated)) == 2
	}, time.Second*5, time.Millisecond*20)

	parent1.stop()

	assert.Eventually(t, func() bool {
		addr, err := nated.swim.LocalAddress(context.Background())
		require.NoError(t, err)
		return !addr.HasParent(1) && addr.HasParent(2)
	}, time.Second*5, time.Millisecond*20)
}

func TestSwim_Status(t *testing.T) {
	network := transport.NewNetwork(1)

	aggregator, err := network.Listen("10.0.0.100:7946")
	require.NoError(t, err)
	defer aggregator.Close()

	startNode(t, network, testAddr(1))
	startNode(
		t,
		network,
		testAddr(2),
		WithBootstrap([]PeerAddress{testAddr(1)}),
		WithAggregator(PeerAddress{ID: 100, Addr: aggregator.Addr()}),
	)

	deadline := time.After(time.Second * 5)
	for {
		select {
		case p := <-aggregator.Packets():
			source, status, err := DecodeStatus(p.Data)
			require.NoError(t, err)
			assert.Equal(t, NodeID(2), source.ID)
			assert.Equal(t, NodeID(2), status.NodeID)
			assert.NotEmpty(t, status.RunID)
			if status.Members == 1 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
		}
	}
}

func TestSwim_Close(t *testing.T) {
	network := transport.NewNetwork(1)
	n := startNode(t, network, testAddr(1))

	addr, err := n.swim.LocalAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAddr(1), addr)

	n.stop()

	_, err = n.swim.Members(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, n.swim.Run(context.Background()))
}
