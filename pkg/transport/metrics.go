package transport

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// PacketBytesInbound is the total number of read bytes.
	PacketBytesInbound prometheus.Counter

	// PacketBytesOutbound is the total number of written bytes.
	PacketBytesOutbound prometheus.Counter

	// PacketsDropped is the total number of received packets dropped as
	// the receive queue was full.
	PacketsDropped prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		PacketBytesInbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "transport",
				Name:      "packet_bytes_inbound_total",
				Help:      "Total number of read bytes via a packet connection",
			},
		),
		PacketBytesOutbound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "transport",
				Name:      "packet_bytes_outbound_total",
				Help:      "Total number of written bytes via a packet connection",
			},
		),
		PacketsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "transport",
				Name:      "packets_dropped_total",
				Help:      "Total number of received packets dropped",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.PacketBytesInbound,
		m.PacketBytesOutbound,
		m.PacketsDropped,
	)
}
