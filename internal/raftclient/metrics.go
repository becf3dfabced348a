package raftclient

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the client-side counters and a connect-latency
// histogram (no gauges), shaped after
// internal/telemetry/metric.Registry's Counter/Gauge interfaces so
// tests can exercise the client without a live Prometheus registry.
type Metrics struct {
	RequestsSubmitted prometheus.Counter
	RequestsRetried   prometheus.Counter
	RequestsFailed    prometheus.Counter
	Failovers         prometheus.Counter
	SessionExpired    prometheus.Counter
	ConnectLatency    prometheus.Histogram
}

// NewMetrics registers a client metrics set on reg. Passing nil
// returns a Metrics backed by a fresh, unregistered registry, so
// callers that don't care about exposition still get working counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RequestsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokmesh_client", Name: "requests_submitted_total",
			Help: "Commands and queries submitted through the client.",
		}),
		RequestsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokmesh_client", Name: "requests_retried_total",
			Help: "Requests resent after a retriable error or failover.",
		}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokmesh_client", Name: "requests_failed_total",
			Help: "Requests that completed with a terminal error.",
		}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokmesh_client", Name: "failovers_total",
			Help: "Times the connection manager dropped a connection and tried another server.",
		}),
		SessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokmesh_client", Name: "session_expired_total",
			Help: "Times the session transitioned to EXPIRED.",
		}),
		ConnectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tokmesh_client", Name: "connect_latency_seconds",
			Help:    "Time to establish and handshake a new connection.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.RequestsSubmitted, m.RequestsRetried, m.RequestsFailed,
		m.Failovers, m.SessionExpired, m.ConnectLatency)
	return m
}
