package driver

import (
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the driver's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Queries   *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	Batches   prometheus.Counter
	InFlight  prometheus.Gauge
	StopsSent prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reql_driver_queries_total",
				Help: "Queries dispatched, by query type",
			},
			[]string{"type"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reql_driver_errors_total",
				Help: "Failed queries, by error category",
			},
			[]string{"category"},
		),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reql_driver_batches_total",
			Help: "Response batches received for cursors",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reql_driver_in_flight",
			Help: "Requests awaiting a response",
		}),
		StopsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reql_driver_cursor_stops_total",
			Help: "STOP notices sent for cursors closed before exhaustion",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Queries, m.Errors, m.Batches, m.InFlight, m.StopsSent)
	}
	return m
}

func (m *Metrics) query(t proto.QueryType) {
	if m != nil {
		m.Queries.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) failure(category string) {
	if m != nil {
		m.Errors.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) batch() {
	if m != nil {
		m.Batches.Inc()
	}
}

func (m *Metrics) inFlight(delta float64) {
	if m != nil {
		m.InFlight.Add(delta)
	}
}

func (m *Metrics) stop() {
	if m != nil {
		m.StopsSent.Inc()
	}
}
