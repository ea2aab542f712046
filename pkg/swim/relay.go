package swim

import (
	"fmt"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
)

// parentWatcher is notified when the local node changes its parents.
type parentWatcher interface {
	OnNewParent(self PeerAddress, parent PeerAddress)
	OnDeadParent(self PeerAddress, parent PeerAddress)
}

// natRelay manages the local nodes parents and routes messages to and from
// nated nodes.
//
// A nated node selects up to MaxParents open nodes as parents from the
// sampled addresses. Any node sending to a nated node sends to a random
// parent of the destination, which relays the message on. Parents are
// pinged every parent ping interval and dropped if they don't respond.
//
// natRelay is not thread safe and is owned by the event loop.
type natRelay struct {
	conf *Config

	self PeerAddress

	// tabu contains the parents the local node has ever selected. A parent
	// is never selected twice.
	tabu map[NodeID]struct{}

	// parentAcks contains the pending parent ack timers keyed by parent.
	parentAcks map[NodeID]*timerHandle

	// children contains the network address each nated child last pinged
	// from. Relayed packets are sent to the observed address, which is the
	// address the childs NAT mapping accepts packets from the parent on.
	children *lru.Cache[NodeID, string]

	sched   scheduler
	out     sender
	watcher parentWatcher
	rand    *rand.Rand

	metrics *Metrics
	logger  log.Logger
}

func newNATRelay(
	conf *Config,
	self PeerAddress,
	sched scheduler,
	out sender,
	watcher parentWatcher,
	rand *rand.Rand,
	metrics *Metrics,
	logger log.Logger,
) (*natRelay, error) {
	children, err := lru.New[NodeID, string](conf.TabuCacheSize)
	if err != nil {
		return nil, fmt.Errorf("children cache: %w", err)
	}
	r := &natRelay{
		conf:       conf,
		self:       self.Clone(),
		tabu:       make(map[NodeID]struct{}),
		parentAcks: make(map[NodeID]*timerHandle),
		children:   children,
		sched:      sched,
		out:        out,
		watcher:    watcher,
		rand:       rand,
		metrics:    metrics,
		logger:     logger,
	}
	for _, parent := range self.Parents {
		r.tabu[parent.ID] = struct{}{}
	}
	return r, nil
}

// Self returns a copy of the local address including the current parents.
func (r *natRelay) Self() PeerAddress {
	return r.self.Clone()
}

// HandleSample considers each sampled address as a new parent.
func (r *natRelay) HandleSample(sample []PeerAddress) {
	if r.self.IsOpen() {
		return
	}

	for _, candidate := range sample {
		if len(r.self.Parents) >= r.conf.MaxParents {
			return
		}
		if !candidate.IsOpen() || candidate.ID == r.self.ID {
			continue
		}
		if r.self.HasParent(candidate.ID) {
			continue
		}
		if _, ok := r.tabu[candidate.ID]; ok {
			continue
		}

		parent := candidate.Clone()
		parent.Parents = nil
		r.self = r.self.WithParent(parent)
		r.tabu[parent.ID] = struct{}{}

		r.logger.Info(
			"new parent",
			zap.String("parent", parent.String()),
			zap.Int("parents", len(r.self.Parents)),
		)

		r.watcher.OnNewParent(r.self.Clone(), parent)
	}
}

// PingParents pings each parent that has no ping pending.
func (r *natRelay) PingParents() {
	if r.self.IsOpen() {
		return
	}

	for _, parent := range r.self.Parents {
		if r.parentAcks[parent.ID].Pending() {
			continue
		}

		parent := parent
		r.parentAcks[parent.ID] = r.sched.AfterFunc(r.conf.ParentAckTimeout, func() {
			r.onParentAckTimeout(parent)
		})
		r.out.sendDirect(parent, parent.Addr, &parentPing{})
	}
}

func (r *natRelay) onParentAckTimeout(parent PeerAddress) {
	delete(r.parentAcks, parent.ID)

	if !r.self.HasParent(parent.ID) {
		return
	}
	r.self = r.self.WithoutParent(parent.ID)

	r.logger.Info(
		"dead parent",
		zap.String("parent", parent.String()),
		zap.Int("parents", len(r.self.Parents)),
	)

	r.watcher.OnDeadParent(r.self.Clone(), parent)
}

// HandleParentPing handles a parent ping from the given node received from
// the given network address. An open node responds with a ping straight back
// to the sender. A nated node treats the ping as a response from its parent.
func (r *natRelay) HandleParentPing(from PeerAddress, addr string) {
	if r.self.IsOpen() {
		r.children.Add(from.ID, addr)
		r.out.sendDirect(from, addr, &parentPing{})
		return
	}

	if h, ok := r.parentAcks[from.ID]; ok {
		h.Cancel()
		delete(r.parentAcks, from.ID)
	}
}

// Route returns the header and network address to send a message to the
// given destination.
func (r *natRelay) Route(to PeerAddress) (header, string, error) {
	if to.IsOpen() {
		return header{
			Kind:        envelopeDirect,
			Source:      r.self.Clone(),
			Destination: to,
		}, to.Addr, nil
	}

	if len(to.Parents) == 0 {
		return header{}, "", fmt.Errorf("route: %s: %w", to, ErrNoParents)
	}

	parent := to.Parents[r.rand.Intn(len(to.Parents))]
	return header{
		Kind:        envelopeSourceRelay,
		Source:      r.self.Clone(),
		Destination: to,
		Relay:       &parent,
	}, parent.Addr, nil
}

// Inbound handles the envelope of a received packet. If the packet must be
// relayed, it returns the header to forward with and the network address to
// forward to. Otherwise an empty address means the packet is delivered
// locally with the returned header.
func (r *natRelay) Inbound(h header) (header, string, error) {
	switch h.Kind {
	case envelopeDirect:
		return h, "", nil
	case envelopeSourceRelay:
		if !r.self.IsOpen() {
			return header{}, "", fmt.Errorf(
				"source relay from %s received by nated node: %w",
				h.Source, ErrProtocolViolation,
			)
		}
		if !h.Destination.HasParent(r.self.ID) {
			return header{}, "", fmt.Errorf(
				"relay to %s: %w", h.Destination, ErrUnauthorizedRelay,
			)
		}
		addr := h.Destination.Addr
		if observed, ok := r.children.Get(h.Destination.ID); ok {
			addr = observed
		}
		self := r.self.Clone()
		return header{
			Kind:        envelopeRelay,
			Source:      h.Source,
			Destination: h.Destination,
			Relay:       &self,
		}, addr, nil
	case envelopeRelay:
		if r.self.IsOpen() {
			return header{}, "", fmt.Errorf(
				"relay from %s received by open node: %w",
				h.Source, ErrProtocolViolation,
			)
		}
		return header{
			Kind:        envelopeDirect,
			Source:      h.Source,
			Destination: h.Destination,
		}, "", nil
	default:
		return header{}, "", fmt.Errorf(
			"unknown envelope: %d: %w", h.Kind, ErrProtocolViolation,
		)
	}
}

// Stop cancels every pending parent ack timer.
func (r *natRelay) Stop() {
	for id, h := range r.parentAcks {
		h.Cancel()
		delete(r.parentAcks, id)
	}
}
