package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the federated sync protocol.
type Metrics struct {
	// Processed exchanges by resulting status
	SyncRequests *prometheus.CounterVec

	// Offered bundles by admission outcome
	BundlesAdmitted *prometheus.CounterVec

	ConflictsDetected prometheus.Counter

	// Resolved conflicts by strategy
	ConflictsResolved *prometheus.CounterVec

	// Size of the synced bundle ID set
	SyncedBundles prometheus.Gauge

	ProcessLatency prometheus.Histogram
}

// New registers the protocol metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_federation_sync_requests_total",
			Help: "Total sync requests processed by resulting status",
		}, []string{"status"}),

		BundlesAdmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_federation_bundles_total",
			Help: "Total offered bundles by admission outcome",
		}, []string{"outcome"}), // outcome: "accepted", "rejected", "skipped"

		ConflictsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "accord_federation_conflicts_detected_total",
			Help: "Total conflicts detected between local and remote bundles",
		}),

		ConflictsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_federation_conflicts_resolved_total",
			Help: "Total conflicts resolved by strategy",
		}, []string{"strategy"}),

		SyncedBundles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "accord_federation_synced_bundles",
			Help: "Number of bundle IDs this node has admitted",
		}),

		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_federation_process_duration_seconds",
			Help:    "Duration of sync request processing",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// ObserveExchange records the outcome of one processed request.
func (m *Metrics) ObserveExchange(status string, accepted, rejected, skipped, conflicts int, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncRequests.WithLabelValues(status).Inc()
	m.BundlesAdmitted.WithLabelValues("accepted").Add(float64(accepted))
	m.BundlesAdmitted.WithLabelValues("rejected").Add(float64(rejected))
	m.BundlesAdmitted.WithLabelValues("skipped").Add(float64(skipped))
	m.ConflictsDetected.Add(float64(conflicts))
	m.ProcessLatency.Observe(d.Seconds())
}

func (m *Metrics) IncrementResolved(strategy string) {
	if m != nil {
		m.ConflictsResolved.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) SetSyncedBundles(n int) {
	if m != nil {
		m.SyncedBundles.Set(float64(n))
	}
}
