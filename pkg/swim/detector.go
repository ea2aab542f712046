package swim

import (
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
)

// sender sends messages to other nodes.
type sender interface {
	// send routes the message to the given node, via one of its parents if
	// the node is nated.
	send(to PeerAddress, m message)
	// sendDirect sends the message straight to the given network address,
	// bypassing relay routing.
	sendDirect(to PeerAddress, addr string, m message)
}

// probeState contains the pending timers for a remote node.
type probeState struct {
	ack      *timerHandle
	dead     *timerHandle
	indirect *timerHandle
	// deleteRequest expires the probe request correlation entry for the
	// node.
	deleteRequest *timerHandle
}

// failureDetector implements the SWIM probe cycle and membership
// dissemination.
//
// Each probe interval a random member is probed. If it doesn't ack within
// the ack timeout, it is suspected and a set of helpers are asked to probe it
// on the local nodes behalf. If no helper reports it alive before the
// indirect probe timeout, it is declared dead. Membership changes are
// piggybacked on acks and reconciled using incarnation numbers, where only
// the node itself may raise its own incarnation to refute a suspicion.
//
// failureDetector is not thread safe and is owned by the event loop.
type failureDetector struct {
	conf *Config

	localID NodeID
	// localAddr returns the current local address including parents.
	localAddr func() PeerAddress

	incarnation uint64

	table  *membershipTable
	buffer *piggybackBuffer

	peers map[NodeID]*probeState

	// activeIndirect is the number of pending indirect probe timers. Only
	// one indirect probe round runs at a time.
	activeIndirect int

	// requests maps a probe request target to the node that requested it.
	// A later request for the same target replaces the earlier one.
	requests map[NodeID]PeerAddress

	sched scheduler
	out   sender

	metrics *Metrics
	logger  log.Logger
}

func newFailureDetector(
	conf *Config,
	localID NodeID,
	localAddr func() PeerAddress,
	table *membershipTable,
	buffer *piggybackBuffer,
	sched scheduler,
	out sender,
	metrics *Metrics,
	logger log.Logger,
) *failureDetector {
	return &failureDetector{
		conf:      conf,
		localID:   localID,
		localAddr: localAddr,
		table:     table,
		buffer:    buffer,
		peers:     make(map[NodeID]*probeState),
		requests:  make(map[NodeID]PeerAddress),
		sched:     sched,
		out:       out,
		metrics:   metrics,
		logger:    logger,
	}
}

// Incarnation returns the local nodes incarnation.
func (d *failureDetector) Incarnation() uint64 {
	return d.incarnation
}

// Bootstrap adds the given nodes as alive members.
func (d *failureDetector) Bootstrap(addrs []PeerAddress) {
	for _, addr := range addrs {
		if addr.ID == d.localID {
			continue
		}
		if d.table.Add(addr, 0) {
			d.logger.Debug("bootstrap node", zap.String("node", addr.String()))
		}
	}
}

// ProbeTick probes a random member, unless an ack from that member is
// already pending.
func (d *failureDetector) ProbeTick() {
	target, ok := d.table.RandomNode()
	if !ok {
		return
	}

	st := d.state(target.ID)
	if st.ack.Pending() {
		d.logger.Debug(
			"probe already pending; skipping",
			zap.String("target", target.String()),
		)
		return
	}

	id := target.ID
	st.ack = d.sched.AfterFunc(d.conf.AckTimeout, func() {
		d.onAckTimeout(id)
	})
	d.out.send(target, &probe{Incarnation: d.incarnation})
}

// OnNewParent disseminates that the local node added a parent.
func (d *failureDetector) OnNewParent(self PeerAddress, parent PeerAddress) {
	d.enqueue(Record{
		Kind:        RecordKindNewParent,
		Target:      self,
		Incarnation: d.incarnation,
		Parent:      &parent,
	})
}

// OnDeadParent disseminates that the local node dropped a parent.
func (d *failureDetector) OnDeadParent(self PeerAddress, parent PeerAddress) {
	d.enqueue(Record{
		Kind:        RecordKindDeadParent,
		Target:      self,
		Incarnation: d.incarnation,
		Parent:      &parent,
	})
}

func (d *failureDetector) HandleProbe(from PeerAddress, m *probe) {
	// A probe from a node being probed indirectly is first hand evidence it
	// is alive.
	if d.cancelIndirect(from.ID) {
		d.refute(from, m.Incarnation)
	}

	// Decrement before admitting the sender so a new sender is gossiped the
	// full dissemination count.
	d.buffer.Decrement()

	if !d.table.Contains(from.ID) {
		if d.table.Add(from, m.Incarnation) {
			d.enqueue(Record{
				Kind:        RecordKindNewNode,
				Target:      from,
				Incarnation: m.Incarnation,
			})
		}
	} else if d.table.UnsuspectNode(from.ID, m.Incarnation) {
		d.cancelDead(from.ID)
		d.enqueue(Record{
			Kind:        RecordKindAliveNode,
			Target:      from,
			Incarnation: m.Incarnation,
		})
	}

	d.out.send(from, &probeAck{
		Incarnation: d.incarnation,
		Records:     d.buffer.Records(),
	})
}

func (d *failureDetector) HandleProbeAck(from PeerAddress, m *probeAck) {
	if st, ok := d.peers[from.ID]; ok {
		st.ack.Cancel()
	}

	requester, borrowed := d.requests[from.ID]
	switch {
	case d.table.Contains(from.ID):
		// A direct ack is first hand evidence the node is alive, so clears
		// any suspicion even if the node hasn't refuted it yet.
		if d.table.IsSuspected(from.ID) {
			d.cancelIndirect(from.ID)
			d.refute(from, m.Incarnation)
		}
	case borrowed:
		// The ack only answers a probe sent on behalf of another node, so
		// the target isn't admitted locally.
	default:
		if d.table.Add(from, m.Incarnation) {
			d.enqueue(Record{
				Kind:        RecordKindNewNode,
				Target:      from,
				Incarnation: m.Incarnation,
			})
		}
	}

	if borrowed {
		delete(d.requests, from.ID)
		if st, ok := d.peers[from.ID]; ok {
			st.deleteRequest.Cancel()
		}
		d.out.send(requester, &probeResponse{
			Target:      from,
			Incarnation: m.Incarnation,
		})
	}

	for _, r := range m.Records {
		d.reconcile(r)
	}
}

func (d *failureDetector) HandleProbeRequest(from PeerAddress, m *probeRequest) {
	target := m.Target
	if target.ID == d.localID {
		return
	}

	d.requests[target.ID] = from
	d.out.send(target, &probe{Incarnation: d.incarnation})

	st := d.state(target.ID)
	st.deleteRequest.Cancel()
	st.deleteRequest = d.sched.AfterFunc(d.conf.DeleteRequestTimeout, func() {
		delete(d.requests, target.ID)
	})
}

func (d *failureDetector) HandleProbeResponse(_ PeerAddress, m *probeResponse) {
	d.cancelIndirect(m.Target.ID)
	d.refute(m.Target, m.Incarnation)
}

func (d *failureDetector) onAckTimeout(id NodeID) {
	d.metrics.ProbesTimedOut.Inc()

	if !d.table.Contains(id) || d.table.IsSuspected(id) {
		return
	}
	if d.activeIndirect > 0 {
		d.logger.Debug(
			"indirect probe already active; dropping suspicion",
			zap.Uint64("target", uint64(id)),
		)
		return
	}

	inc, _ := d.table.Incarnation(id)
	if !d.table.SuspectNode(id, inc+1) {
		return
	}
	target, _ := d.table.Address(id)
	d.enqueue(Record{
		Kind:        RecordKindSuspectedNode,
		Target:      target,
		Incarnation: inc + 1,
	})
	d.scheduleDead(id)

	helpers, err := d.table.SelectRandom(d.conf.IndirectProbes, id)
	if err != nil {
		d.logger.Debug(
			"skipping indirect probe",
			zap.String("target", target.String()),
			zap.Error(err),
		)
		return
	}

	d.metrics.IndirectProbes.Inc()
	for _, helper := range helpers {
		d.out.send(helper, &probeRequest{Target: target})
	}
	d.scheduleIndirect(id)
}

func (d *failureDetector) onDeadTimeout(id NodeID) {
	if !d.table.IsSuspected(id) {
		return
	}
	d.declareDead(id)
}

func (d *failureDetector) onIndirectTimeout(id NodeID) {
	d.activeIndirect--

	// The node may have been refuted by gossip since the round started.
	if !d.table.IsSuspected(id) {
		return
	}
	d.declareDead(id)
}

func (d *failureDetector) declareDead(id NodeID) {
	addr, _ := d.table.Address(id)
	inc, _ := d.table.Incarnation(id)
	if !d.table.Remove(addr, inc) {
		return
	}

	d.logger.Info(
		"node dead",
		zap.String("node", addr.String()),
		zap.Uint64("incarnation", inc),
	)

	d.cancelDead(id)
	d.enqueue(Record{
		Kind:        RecordKindDeadNode,
		Target:      addr,
		Incarnation: inc,
	})
}

// refute clears the suspicion of a node given first hand evidence that it is
// alive. The evidence is newer than the suspicion, so the incarnation is
// raised past the suspected incarnation if needed.
func (d *failureDetector) refute(addr PeerAddress, reported uint64) {
	d.cancelDead(addr.ID)

	if !d.table.IsSuspected(addr.ID) {
		return
	}
	inc, _ := d.table.Incarnation(addr.ID)
	if reported <= inc {
		reported = inc + 1
	}
	if d.table.UnsuspectNode(addr.ID, reported) {
		d.enqueue(Record{
			Kind:        RecordKindAliveNode,
			Target:      addr,
			Incarnation: reported,
		})
	}
}

// reconcile applies a piggybacked record to the local view. Records that
// change the view are re-enqueued so they continue to spread. Records about
// the local node are refuted by raising the local incarnation.
func (d *failureDetector) reconcile(r Record) {
	if r.Target.ID == d.localID {
		d.reconcileLocal(r)
		return
	}

	switch r.Kind {
	case RecordKindNewNode:
		if d.table.Add(r.Target, r.Incarnation) {
			d.enqueue(r)
		}
	case RecordKindDeadNode:
		if d.table.Remove(r.Target, r.Incarnation) {
			d.cancelDead(r.Target.ID)
			d.enqueue(r)
		}
	case RecordKindAliveNode:
		if d.table.UnsuspectNode(r.Target.ID, r.Incarnation) {
			d.cancelDead(r.Target.ID)
			d.enqueue(r)
		}
	case RecordKindSuspectedNode:
		if d.table.SuspectNode(r.Target.ID, r.Incarnation) {
			d.enqueue(r)
			if !d.state(r.Target.ID).dead.Pending() {
				d.scheduleDead(r.Target.ID)
			}
		}
	case RecordKindNewParent:
		if r.Parent != nil && d.table.UpdateNewParents(r.Target.ID, *r.Parent) {
			d.enqueue(r)
		}
	case RecordKindDeadParent:
		if r.Parent != nil && d.table.UpdateDeadParents(r.Target.ID, *r.Parent) {
			d.enqueue(r)
		}
	}
}

func (d *failureDetector) reconcileLocal(r Record) {
	switch r.Kind {
	case RecordKindNewNode:
		if r.Incarnation > d.incarnation {
			d.incarnation = r.Incarnation
			d.enqueueLocal(RecordKindNewNode)
		}
	case RecordKindDeadNode:
		if d.incarnation <= r.Incarnation {
			d.incarnation = r.Incarnation + 1
			d.logger.Info(
				"refuting dead node",
				zap.Uint64("incarnation", d.incarnation),
			)
			d.enqueueLocal(RecordKindNewNode)
		}
	case RecordKindAliveNode:
		if r.Incarnation > d.incarnation {
			d.incarnation = r.Incarnation
			d.enqueueLocal(RecordKindAliveNode)
		}
	case RecordKindSuspectedNode:
		if d.incarnation <= r.Incarnation {
			d.incarnation = r.Incarnation + 1
			d.logger.Info(
				"refuting suspicion",
				zap.Uint64("incarnation", d.incarnation),
			)
			d.enqueueLocal(RecordKindAliveNode)
		}
	}
}

func (d *failureDetector) enqueueLocal(kind RecordKind) {
	d.enqueue(Record{
		Kind:        kind,
		Target:      d.localAddr(),
		Incarnation: d.incarnation,
	})
}

func (d *failureDetector) enqueue(r Record) {
	r.Target = r.Target.Clone()
	d.buffer.Add(r, d.conf.DisseminationCount)
}

func (d *failureDetector) scheduleDead(id NodeID) {
	st := d.state(id)
	st.dead.Cancel()
	st.dead = d.sched.AfterFunc(d.conf.DeadTimeout, func() {
		d.onDeadTimeout(id)
	})
}

func (d *failureDetector) cancelDead(id NodeID) {
	if st, ok := d.peers[id]; ok {
		st.dead.Cancel()
	}
}

func (d *failureDetector) scheduleIndirect(id NodeID) {
	d.cancelIndirect(id)

	st := d.state(id)
	st.indirect = d.sched.AfterFunc(d.conf.IndirectProbeTimeout, func() {
		d.onIndirectTimeout(id)
	})
	d.activeIndirect++
}

// cancelIndirect cancels the pending indirect probe timer for the node.
// Returns whether a timer was pending.
func (d *failureDetector) cancelIndirect(id NodeID) bool {
	st, ok := d.peers[id]
	if !ok {
		return false
	}
	if st.indirect.Cancel() {
		d.activeIndirect--
		return true
	}
	return false
}

func (d *failureDetector) state(id NodeID) *probeState {
	st, ok := d.peers[id]
	if !ok {
		st = &probeState{}
		d.peers[id] = st
	}
	return st
}

// Stop cancels every pending timer.
func (d *failureDetector) Stop() {
	for id, st := range d.peers {
		st.ack.Cancel()
		st.dead.Cancel()
		d.cancelIndirect(id)
		st.deleteRequest.Cancel()
	}
}
