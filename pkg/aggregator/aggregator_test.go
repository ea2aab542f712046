package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
	"github.com/andydunstall/swimrelay/pkg/transport"
)

type aggregatorTest struct {
	aggregator *Aggregator
	sender     *transport.Endpoint
	clock      *clock.Mock
}

func newAggregatorTest(t *testing.T) *aggregatorTest {
	network := transport.NewNetwork(1)

	endpoint, err := network.Listen("10.0.0.100:7946")
	require.NoError(t, err)
	sender, err := network.Listen("10.0.0.1:7946")
	require.NoError(t, err)

	mock := clock.NewMock()
	aggregator := NewAggregator(endpoint, mock, NewMetrics(), log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		_ = aggregator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-doneCh
		endpoint.Close()
		sender.Close()
	})

	return &aggregatorTest{
		aggregator: aggregator,
		sender:     sender,
		clock:      mock,
	}
}

func (at *aggregatorTest) report(t *testing.T, addr swim.PeerAddress, status *swim.Status) {
	t.Helper()

	b, err := swim.EncodeStatus(addr, status)
	require.NoError(t, err)
	require.NoError(t, at.sender.WriteTo(b, at.aggregator.transport.Addr()))
}

func TestAggregator_Report(t *testing.T) {
	at := newAggregatorTest(t)

	addr1 := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	addr2 := swim.PeerAddress{
		ID:   2,
		Addr: "192.168.1.2:7946",
		NAT:  swim.NATTypeNated,
		Parents: []swim.PeerAddress{
			addr1,
		},
	}

	at.report(t, addr1, &swim.Status{NodeID: 1, RunID: "a", Members: 2})
	at.report(t, addr2, &swim.Status{NodeID: 2, RunID: "b", Members: 2, Parents: 1})

	assert.Eventually(t, func() bool {
		return len(at.aggregator.Nodes()) == 2
	}, time.Second, time.Millisecond*10)

	nodes := at.aggregator.Nodes()
	assert.Equal(t, addr1, nodes[0].Address)
	assert.Equal(t, 2, nodes[0].Status.Members)
	assert.Equal(t, uint64(1), nodes[0].Reports)
	assert.Equal(t, addr2, nodes[1].Address)
	assert.Equal(t, 1, nodes[1].Status.Parents)
}

func TestAggregator_LatestReport(t *testing.T) {
	at := newAggregatorTest(t)

	addr := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	at.report(t, addr, &swim.Status{NodeID: 1, RunID: "a", Members: 2})
	at.report(t, addr, &swim.Status{NodeID: 1, RunID: "a", Members: 5})

	assert.Eventually(t, func() bool {
		node, ok := at.aggregator.Node(1)
		return ok && node.Reports == 2
	}, time.Second, time.Millisecond*10)

	node, _ := at.aggregator.Node(1)
	assert.Equal(t, 5, node.Status.Members)
	assert.Equal(t, uint64(0), node.Restarts)

	// A new run ID means the node restarted.
	at.report(t, addr, &swim.Status{NodeID: 1, RunID: "b", Members: 1})
	assert.Eventually(t, func() bool {
		node, _ := at.aggregator.Node(1)
		return node.Restarts == 1
	}, time.Second, time.Millisecond*10)
}

func TestAggregator_InvalidReport(t *testing.T) {
	at := newAggregatorTest(t)

	require.NoError(t, at.sender.WriteTo([]byte("foo"), at.aggregator.transport.Addr()))

	addr := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	at.report(t, addr, &swim.Status{NodeID: 1, RunID: "a"})

	// Packets are handled in order so once the valid report is seen the
	// invalid packet has been discarded.
	assert.Eventually(t, func() bool {
		_, ok := at.aggregator.Node(1)
		return ok
	}, time.Second, time.Millisecond*10)
	assert.Len(t, at.aggregator.Nodes(), 1)
}

func TestAggregator_Prune(t *testing.T) {
	at := newAggregatorTest(t)

	addr1 := swim.PeerAddress{ID: 1, Addr: "10.0.0.1:7946"}
	addr2 := swim.PeerAddress{ID: 2, Addr: "10.0.0.2:7946"}

	at.report(t, addr1, &swim.Status{NodeID: 1, RunID: "a"})
	assert.Eventually(t, func() bool {
		_, ok := at.aggregator.Node(1)
		return ok
	}, time.Second, time.Millisecond*10)

	at.clock.Add(time.Minute)

	at.report(t, addr2, &swim.Status{NodeID: 2, RunID: "b"})
	assert.Eventually(t, func() bool {
		_, ok := at.aggregator.Node(2)
		return ok
	}, time.Second, time.Millisecond*10)

	assert.Equal(t, 1, at.aggregator.Prune(time.Second*30))

	_, ok := at.aggregator.Node(1)
	assert.False(t, ok)
	_, ok = at.aggregator.Node(2)
	assert.True(t, ok)
}
