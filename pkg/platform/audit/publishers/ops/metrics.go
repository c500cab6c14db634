package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for ops audit tracking.
type Metrics struct {
	Tracked               prometheus.Counter
	Sampled               prometheus.Counter
	BufferDropped         prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics registers ops audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Tracked: f.NewCounter(prometheus.CounterOpts{
			Name: "accord_audit_ops_tracked_total",
			Help: "Total number of operational audit events successfully tracked",
		}),
		Sampled: f.NewCounter(prometheus.CounterOpts{
			Name: "accord_audit_ops_sampled_total",
			Help: "Total number of operational audit events dropped due to sampling",
		}),
		BufferDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "accord_audit_ops_buffer_dropped_total",
			Help: "Total number of operational audit events dropped because the buffer was full",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "accord_audit_ops_circuit_breaker_dropped_total",
			Help: "Total number of operational audit events dropped due to circuit breaker",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "accord_audit_ops_persist_failures_total",
			Help: "Total number of operational audit event persistence failures",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "accord_audit_ops_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncTracked() {
	if m != nil {
		m.Tracked.Inc()
	}
}

func (m *Metrics) IncSampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) IncBufferDropped() {
	if m != nil {
		m.BufferDropped.Inc()
	}
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m != nil {
		m.CircuitBreakerDropped.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
