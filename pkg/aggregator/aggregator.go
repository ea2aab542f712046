// Package aggregator receives the periodic status reports sent by nodes.
//
// Reports are best-effort datagrams so the aggregator only keeps the most
// recent report from each node. A node that stops reporting is kept until it
// is pruned.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
	"github.com/andydunstall/swimrelay/pkg/transport"
)

// NodeStatus is the latest report received from a node.
type NodeStatus struct {
	Address swim.PeerAddress `json:"address"`
	Status  swim.Status      `json:"status"`

	// Reports is the number of reports received from the node.
	Reports uint64 `json:"reports"`
	// Restarts is the number of times the nodes run ID changed.
	Restarts uint64 `json:"restarts"`

	ReceivedAt time.Time `json:"received_at"`
}

type Aggregator struct {
	transport transport.Transport

	nodes map[swim.NodeID]*NodeStatus

	// mu protects the above fields.
	mu sync.Mutex

	clock clock.Clock

	metrics *Metrics

	logger log.Logger
}

func NewAggregator(
	transport transport.Transport,
	clock clock.Clock,
	metrics *Metrics,
	logger log.Logger,
) *Aggregator {
	return &Aggregator{
		transport: transport,
		nodes:     make(map[swim.NodeID]*NodeStatus),
		clock:     clock,
		metrics:   metrics,
		logger:    logger.WithSubsystem("aggregator"),
	}
}

// Run reads reports from the transport until the context is cancelled or the
// transport is closed.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("starting aggregator", zap.String("addr", a.transport.Addr()))

	packets := a.transport.Packets()
	for {
		select {
		case p, ok := <-packets:
			if !ok {
				return nil
			}
			a.handlePacket(p)
		case <-ctx.Done():
			return nil
		}
	}
}

// Nodes returns the latest report from each node, sorted by node ID.
func (a *Aggregator) Nodes() []NodeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	nodes := make([]NodeStatus, 0, len(a.nodes))
	for _, node := range a.nodes {
		nodes = append(nodes, *node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address.ID < nodes[j].Address.ID
	})
	return nodes
}

func (a *Aggregator) Node(id swim.NodeID) (NodeStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[id]
	if !ok {
		return NodeStatus{}, false
	}
	return *node, true
}

// Prune removes nodes that haven't reported within the given duration,
// returning the number of nodes removed.
func (a *Aggregator) Prune(d time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.clock.Now().Add(-d)
	removed := 0
	for id, node := range a.nodes {
		if node.ReceivedAt.Before(cutoff) {
			delete(a.nodes, id)
			removed++
		}
	}
	a.metrics.Nodes.Set(float64(len(a.nodes)))
	return removed
}

func (a *Aggregator) handlePacket(p *transport.Packet) {
	addr, status, err := swim.DecodeStatus(p.Data)
	if err != nil {
		a.metrics.InvalidReports.Inc()
		a.logger.Warn(
			"invalid report",
			zap.String("from", p.Addr),
			zap.Error(err),
		)
		return
	}

	a.metrics.Reports.Inc()
	a.update(addr, status)

	a.logger.Info(
		"status",
		zap.String("node", addr.String()),
		zap.String("run-id", status.RunID),
		zap.Int("members", status.Members),
		zap.Int("new-node", status.NewNode),
		zap.Int("dead-node", status.DeadNode),
		zap.Int("alive-node", status.AliveNode),
		zap.Int("suspected", status.Suspected),
		zap.Int("new-parent", status.NewParent),
		zap.Int("dead-parent", status.DeadParent),
		zap.Uint64("incarnation", status.Incarnation),
		zap.Int("parents", status.Parents),
	)
}

func (a *Aggregator) update(addr swim.PeerAddress, status *swim.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[addr.ID]
	if !ok {
		node = &NodeStatus{}
		a.nodes[addr.ID] = node
		a.metrics.Nodes.Set(float64(len(a.nodes)))
	} else if node.Status.RunID != status.RunID {
		node.Restarts++
	}

	node.Address = addr
	node.Status = *status
	node.Reports++
	node.ReceivedAt = a.clock.Now()
}
