package swim

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// PacketsInbound is the total number of received packets labelled by
	// message type.
	PacketsInbound *prometheus.CounterVec

	// PacketsOutbound is the total number of sent packets labelled by
	// message type.
	PacketsOutbound *prometheus.CounterVec

	// SendErrors is the total number of packets that could not be sent.
	SendErrors prometheus.Counter

	// DecodeErrors is the total number of received packets that could not
	// be decoded.
	DecodeErrors prometheus.Counter

	// ProtocolViolations is the total number of packets received that the
	// node must never receive given its NAT type.
	ProtocolViolations prometheus.Counter

	// UnauthorizedRelays is the total number of dropped relay requests for
	// nodes that do not list the local node as a parent.
	UnauthorizedRelays prometheus.Counter

	// PacketsRelayed is the total number of packets relayed to nated
	// children.
	PacketsRelayed prometheus.Counter

	// ProbesTimedOut is the total number of probes with no ack before the
	// ack timeout.
	ProbesTimedOut prometheus.Counter

	// IndirectProbes is the total number of indirect probe rounds started.
	IndirectProbes prometheus.Counter

	// Members is the number of members labelled by state.
	Members *prometheus.GaugeVec

	// PiggybackRecords is the number of buffered piggyback records labelled
	// by kind.
	PiggybackRecords *prometheus.GaugeVec

	// Incarnation is the local nodes incarnation.
	Incarnation prometheus.Gauge

	// Parents is the number of parents of the local node.
	Parents prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		PacketsInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "packets_inbound_total",
				Help:      "Total number of received packets",
			},
			[]string{"type"},
		),
		PacketsOutbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "packets_outbound_total",
				Help:      "Total number of sent packets",
			},
			[]string{"type"},
		),
		SendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "send_errors_total",
				Help:      "Total number of packets that could not be sent",
			},
		),
		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "decode_errors_total",
				Help:      "Total number of received packets that could not be decoded",
			},
		),
		ProtocolViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "protocol_violations_total",
				Help:      "Total number of received packets violating the relay protocol",
			},
		),
		UnauthorizedRelays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "unauthorized_relays_total",
				Help:      "Total number of dropped relay requests",
			},
		),
		PacketsRelayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "packets_relayed_total",
				Help:      "Total number of packets relayed to nated children",
			},
		),
		ProbesTimedOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "probes_timed_out_total",
				Help:      "Total number of probes that timed out",
			},
		),
		IndirectProbes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "indirect_probes_total",
				Help:      "Total number of indirect probe rounds",
			},
		),
		Members: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "members",
				Help:      "Number of members",
			},
			[]string{"state"},
		),
		PiggybackRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "piggyback_records",
				Help:      "Number of buffered piggyback records",
			},
			[]string{"kind"},
		),
		Incarnation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "incarnation",
				Help:      "Local node incarnation",
			},
		),
		Parents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "swimrelay",
				Subsystem: "swim",
				Name:      "parents",
				Help:      "Number of parents of the local node",
			},
		),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.PacketsInbound,
		m.PacketsOutbound,
		m.SendErrors,
		m.DecodeErrors,
		m.ProtocolViolations,
		m.UnauthorizedRelays,
		m.PacketsRelayed,
		m.ProbesTimedOut,
		m.IndirectProbes,
		m.Members,
		m.PiggybackRecords,
		m.Incarnation,
		m.Parents,
	)
}
