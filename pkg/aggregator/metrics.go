package aggregator

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	// Reports is the total number of status reports received.
	Reports prometheus.Counter

	// InvalidReports is the total number of packets that couldn't be
	// decoded as status reports.
	InvalidReports prometheus.Counter

	// Nodes is the number of nodes with a report.
	Nodes prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Reports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "aggregator",
				Name:      "reports_total",
				Help:      "Total number of status reports received",
			},
		),
		InvalidReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "swimrelay",
				Subsystem: "aggregator",
				Name:      "invalid_reports_total",
				Help:      "Total number of invalid status reports received",
			},
		),
		Nodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "swimrelay",
				Subsystem: "aggregator",
				Name:      "nodes",
				Help:      "Number of nodes with a status report",
			},
		),
	}
}

func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.Reports,
		m.InvalidReports,
		m.Nodes,
	)
}
