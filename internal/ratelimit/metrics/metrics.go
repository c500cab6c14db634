package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SyncAllowed     prometheus.Counter
	SyncRejected    prometheus.Counter
	LimiterFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SyncAllowed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "accord_ratelimit_sync_allowed_total",
			Help: "Total number of sync requests admitted by the rate limiter",
		}),
		SyncRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "accord_ratelimit_sync_rejected_total",
			Help: "Total number of sync requests rejected with 429",
		}),
		LimiterFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "accord_ratelimit_store_errors_total",
			Help: "Total number of rate limit checks that failed open on a store error",
		}),
	}
}

func (m *Metrics) IncrementAllowed() {
	if m != nil {
		m.SyncAllowed.Inc()
	}
}

func (m *Metrics) IncrementRejected() {
	if m != nil {
		m.SyncRejected.Inc()
	}
}

func (m *Metrics) IncrementFailures() {
	if m != nil {
		m.LimiterFailures.Inc()
	}
}
