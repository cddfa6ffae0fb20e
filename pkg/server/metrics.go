package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adfharrison1/go-reql/pkg/proto"
)

type metrics struct {
	requests        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	sessions        prometheus.Gauge
	cursorEvictions prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reql_server_requests_total",
				Help: "Requests served, by query type",
			},
			[]string{"type"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reql_server_failures_total",
				Help: "Requests answered with an error, by response type",
			},
			[]string{"response"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reql_server_request_duration_seconds",
				Help:    "Time spent serving a request, by query type",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reql_server_sessions",
			Help: "Open sessions",
		}),
		cursorEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reql_server_cursor_evictions_total",
			Help: "Open cursors evicted from a full session cache",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.failures, m.duration, m.sessions, m.cursorEvictions)
	}
	return m
}

func (m *metrics) observe(t proto.QueryType, resp *proto.Response, elapsed time.Duration) {
	m.requests.WithLabelValues(t.String()).Inc()
	m.duration.WithLabelValues(t.String()).Observe(elapsed.Seconds())
	if resp != nil && resp.Type.IsError() {
		m.failures.WithLabelValues(resp.Type.String()).Inc()
	}
}

func (m *metrics) cursorEvicted() {
	m.cursorEvictions.Inc()
}
