package swim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/transport"
)

const (
	inboxSize = 256
)

// Swim runs the membership protocol for the local node.
//
// All protocol state is owned by a single event loop goroutine (see Run).
// Received packets, parent samples, fired timers and queries are processed
// one at a time in arrival order, so handlers never block and never race.
type Swim struct {
	conf *Config

	localID NodeID
	runID   string

	table    *membershipTable
	buffer   *piggybackBuffer
	detector *failureDetector
	relay    *natRelay
	sched    *clockScheduler

	// periodic contains the probe, status and parent ping tickers.
	periodic []*timerHandle

	transport  transport.Transport
	sampler    Sampler
	aggregator *PeerAddress
	bootstrap  []PeerAddress

	inbox chan func()
	// doneCh is closed when the event loop exits.
	doneCh     chan struct{}
	shutdownCh chan struct{}

	running *atomic.Bool
	closed  *atomic.Bool

	metrics *Metrics
	logger  log.Logger
}

func New(
	self PeerAddress,
	conf *Config,
	transport transport.Transport,
	opts ...Option,
) (*Swim, error) {
	options := defaultOptions()
	for _, o := range opts {
		o.apply(&options)
	}

	logger := options.logger.WithSubsystem("swim")
	rng := rand.New(rand.NewSource(options.seed))

	s := &Swim{
		conf:       conf,
		localID:    self.ID,
		runID:      uuid.New().String(),
		transport:  transport,
		sampler:    options.sampler,
		aggregator: options.aggregator,
		bootstrap:  options.bootstrap,
		inbox:      make(chan func(), inboxSize),
		doneCh:     make(chan struct{}),
		shutdownCh: make(chan struct{}),
		running:    atomic.NewBool(false),
		closed:     atomic.NewBool(false),
		metrics:    options.metrics,
		logger:     logger,
	}
	s.sched = newClockScheduler(options.clock, s.post)

	table, err := newMembershipTable(self.ID, conf.TabuCacheSize, rng, options.watcher)
	if err != nil {
		return nil, err
	}
	s.table = table
	s.buffer = newPiggybackBuffer(conf.MaxPiggyback)

	s.detector = newFailureDetector(
		conf,
		self.ID,
		func() PeerAddress { return s.relay.Self() },
		s.table,
		s.buffer,
		s.sched,
		s,
		s.metrics,
		logger,
	)
	relay, err := newNATRelay(
		conf,
		self,
		s.sched,
		s,
		s.detector,
		rng,
		s.metrics,
		options.logger.WithSubsystem("swim.relay"),
	)
	if err != nil {
		return nil, err
	}
	s.relay = relay

	logger.Info(
		"starting swim",
		zap.String("local", self.String()),
		zap.Int("parents", len(self.Parents)),
		zap.String("run-id", s.runID),
	)

	return s, nil
}

// Run runs the event loop until the context is cancelled or Swim is closed.
func (s *Swim) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("already running")
	}
	defer close(s.doneCh)

	s.start()
	defer s.stop()

	var samples <-chan []PeerAddress
	if s.sampler != nil {
		samples = s.sampler.Samples()
	}
	packets := s.transport.Packets()

	for {
		select {
		case p, ok := <-packets:
			if !ok {
				if s.closed.Load() || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("transport closed")
			}
			s.handlePacket(p)
		case sample := <-samples:
			s.relay.HandleSample(sample)
		case f := <-s.inbox:
			f()
		case <-ctx.Done():
			return nil
		case <-s.shutdownCh:
			return nil
		}
	}
}

// Close stops the event loop. The transport is not closed.
func (s *Swim) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.shutdownCh)
	return nil
}

// Members returns a snapshot of every known member, including dead members.
func (s *Swim) Members(ctx context.Context) ([]Member, error) {
	return query(ctx, s, s.table.Members)
}

// Member returns the member with the given ID.
func (s *Swim) Member(ctx context.Context, id NodeID) (Member, bool, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return Member{}, false, err
	}
	for _, m := range members {
		if m.Address.ID == id {
			return m, true, nil
		}
	}
	return Member{}, false, nil
}

// LocalAddress returns the local address including the current parents.
func (s *Swim) LocalAddress(ctx context.Context) (PeerAddress, error) {
	return query(ctx, s, s.relay.Self)
}

// Status returns the current status of the local node.
func (s *Swim) Status(ctx context.Context) (*Status, error) {
	return query(ctx, s, s.status)
}

// ClearTabu clears the parent history of every member.
func (s *Swim) ClearTabu(ctx context.Context) error {
	_, err := query(ctx, s, func() struct{} {
		s.table.ClearTabu()
		return struct{}{}
	})
	return err
}

func (s *Swim) start() {
	s.detector.Bootstrap(s.bootstrap)

	s.periodic = append(
		s.periodic,
		s.sched.Every(s.conf.ProbeInterval, s.detector.ProbeTick),
		s.sched.Every(s.conf.StatusInterval, s.reportStatus),
	)
	if !s.relay.Self().IsOpen() {
		s.periodic = append(
			s.periodic,
			s.sched.Every(s.conf.ParentPingInterval, s.relay.PingParents),
		)
	}
}

func (s *Swim) stop() {
	for _, h := range s.periodic {
		h.Cancel()
	}
	s.periodic = nil
	s.detector.Stop()
	s.relay.Stop()
}

func (s *Swim) handlePacket(p *transport.Packet) {
	pkt, err := decodePacket(p.Data)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Warn(
			"failed to decode packet",
			zap.String("addr", p.Addr),
			zap.Error(err),
		)
		return
	}

	s.metrics.PacketsInbound.WithLabelValues(pkt.Type.String()).Inc()

	// Parent pings bypass relay routing.
	if pkt.Type == messageTypeParentPing {
		s.relay.HandleParentPing(pkt.Header.Source, p.Addr)
		return
	}

	h, forwardAddr, err := s.relay.Inbound(pkt.Header)
	if err != nil {
		if errors.Is(err, ErrUnauthorizedRelay) {
			s.metrics.UnauthorizedRelays.Inc()
			s.logger.Warn(
				"dropping relay",
				zap.String("addr", p.Addr),
				zap.Error(err),
			)
			return
		}

		s.metrics.ProtocolViolations.Inc()
		s.logger.Error(
			"protocol violation",
			zap.String("addr", p.Addr),
			zap.String("type", pkt.Type.String()),
			zap.Error(err),
		)
		return
	}

	if forwardAddr != "" {
		pkt.Header = h
		s.write(pkt, forwardAddr)
		s.metrics.PacketsRelayed.Inc()
		return
	}

	if h.Destination.ID != s.localID {
		s.logger.Debug(
			"dropping packet for another node",
			zap.String("destination", h.Destination.String()),
			zap.String("source", h.Source.String()),
		)
		return
	}

	m, err := decodeMessage(pkt.Type, pkt.Body)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.logger.Warn(
			"failed to decode message",
			zap.String("source", h.Source.String()),
			zap.String("type", pkt.Type.String()),
			zap.Error(err),
		)
		return
	}

	switch m := m.(type) {
	case *probe:
		s.detector.HandleProbe(h.Source, m)
	case *probeAck:
		s.detector.HandleProbeAck(h.Source, m)
	case *probeRequest:
		s.detector.HandleProbeRequest(h.Source, m)
	case *probeResponse:
		s.detector.HandleProbeResponse(h.Source, m)
	default:
		s.logger.Debug(
			"unexpected message",
			zap.String("source", h.Source.String()),
			zap.String("type", pkt.Type.String()),
		)
	}
}

func (s *Swim) send(to PeerAddress, m message) {
	h, addr, err := s.relay.Route(to)
	if err != nil {
		s.metrics.SendErrors.Inc()
		s.logger.Debug(
			"failed to route message",
			zap.String("type", m.messageType().String()),
			zap.Error(err),
		)
		return
	}
	s.sendWithHeader(m, h, addr)
}

func (s *Swim) sendDirect(to PeerAddress, addr string, m message) {
	s.sendWithHeader(m, header{
		Kind:        envelopeDirect,
		Source:      s.relay.Self(),
		Destination: to,
	}, addr)
}

func (s *Swim) sendWithHeader(m message, h header, addr string) {
	// Encode the header alone to find the space left for the body.
	framed, err := encodePacket(&packet{
		Type:   m.messageType(),
		Header: h,
	})
	if err != nil {
		s.metrics.SendErrors.Inc()
		s.logger.Warn("failed to encode header", zap.Error(err))
		return
	}

	body, err := encodeMessage(m, s.conf.MaxPacketSize-len(framed)-maxBodyOverhead)
	if err != nil {
		s.metrics.SendErrors.Inc()
		s.logger.Warn(
			"failed to encode message",
			zap.String("type", m.messageType().String()),
			zap.Error(err),
		)
		return
	}

	s.write(&packet{
		Type:   m.messageType(),
		Header: h,
		Body:   body,
	}, addr)
}

func (s *Swim) write(p *packet, addr string) {
	b, err := encodePacket(p)
	if err != nil {
		s.metrics.SendErrors.Inc()
		s.logger.Warn("failed to encode packet", zap.Error(err))
		return
	}

	if err := s.transport.WriteTo(b, addr); err != nil {
		s.metrics.SendErrors.Inc()
		s.logger.Debug(
			"failed to write packet",
			zap.String("addr", addr),
			zap.String("type", p.Type.String()),
			zap.Error(err),
		)
		return
	}
	s.metrics.PacketsOutbound.WithLabelValues(p.Type.String()).Inc()
}

func (s *Swim) status() *Status {
	return newStatus(
		s.localID,
		s.runID,
		s.table.Size(),
		s.buffer.Counts(),
		s.detector.Incarnation(),
		len(s.relay.Self().Parents),
	)
}

func (s *Swim) reportStatus() {
	status := s.status()
	s.updateMetrics(status)

	s.logger.Debug(
		"status",
		zap.Int("members", status.Members),
		zap.Int("piggyback", s.buffer.Len()),
		zap.Uint64("incarnation", status.Incarnation),
		zap.Int("parents", status.Parents),
	)

	if s.aggregator != nil {
		s.send(*s.aggregator, status)
	}
}

func (s *Swim) updateMetrics(status *Status) {
	states := map[MemberState]int{
		MemberStateAlive:     0,
		MemberStateSuspected: 0,
		MemberStateDead:      0,
	}
	for _, m := range s.table.Members() {
		states[m.State]++
	}
	for state, n := range states {
		s.metrics.Members.WithLabelValues(state.String()).Set(float64(n))
	}

	counts := s.buffer.Counts()
	for kind := RecordKindNewNode; kind <= RecordKindDeadParent; kind++ {
		s.metrics.PiggybackRecords.WithLabelValues(kind.String()).Set(float64(counts[kind]))
	}

	s.metrics.Incarnation.Set(float64(status.Incarnation))
	s.metrics.Parents.Set(float64(status.Parents))
}

// post queues f to run on the event loop. If the event loop has exited f is
// discarded.
func (s *Swim) post(f func()) {
	select {
	case s.inbox <- f:
	case <-s.doneCh:
	}
}

// query runs f on the event loop and returns its result.
func query[T any](ctx context.Context, s *Swim, f func() T) (T, error) {
	var zero T

	resultCh := make(chan T, 1)
	select {
	case s.inbox <- func() { resultCh <- f() }:
	case <-s.doneCh:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-s.doneCh:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var _ sender = &Swim{}
