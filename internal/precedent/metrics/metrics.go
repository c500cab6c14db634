package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for precedent bundling.
type Metrics struct {
	// Bundles created by cluster kind
	BundlesCreated *prometheus.CounterVec

	// Precedents dropped because their group stayed below min_k
	PrecedentsDiscarded prometheus.Counter

	// Members per bundle
	BundleSize prometheus.Histogram

	// Full CreateBundles duration including embedding
	CreateLatency prometheus.Histogram
}

// New registers the bundling metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BundlesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_precedent_bundles_created_total",
			Help: "Total anonymous bundles created by cluster kind",
		}, []string{"kind"}), // kind: "similarity", "noise_pool"

		PrecedentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "accord_precedent_discarded_total",
			Help: "Total precedents left out of bundles because their group was smaller than min_k",
		}),

		BundleSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_precedent_bundle_size",
			Help:    "Number of precedents summarised per bundle",
			Buckets: []float64{2, 5, 10, 20, 50, 100, 250},
		}),

		CreateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_precedent_create_bundles_duration_seconds",
			Help:    "Duration of bundle creation including embedding and clustering",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// ObserveBundle records one created bundle.
func (m *Metrics) ObserveBundle(kind string, size int) {
	if m != nil {
		m.BundlesCreated.WithLabelValues(kind).Inc()
		m.BundleSize.Observe(float64(size))
	}
}

func (m *Metrics) AddDiscarded(n int) {
	if m != nil && n > 0 {
		m.PrecedentsDiscarded.Add(float64(n))
	}
}

func (m *Metrics) ObserveCreateLatency(d time.Duration) {
	if m != nil {
		m.CreateLatency.Observe(d.Seconds())
	}
}
