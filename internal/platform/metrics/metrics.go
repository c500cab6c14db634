package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
// Every module registers its own metrics against it.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Metrics holds node-level metrics that belong to no single module.
type Metrics struct {
	NodeInfo *prometheus.GaugeVec
}

// New registers node-level metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		NodeInfo: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "accord_node_info",
			Help: "Static information about this node; always 1",
		}, []string{"node_id", "protocol_version"}),
	}
}

// SetNodeInfo publishes the node's identity.
func (m *Metrics) SetNodeInfo(nodeID, protocolVersion string) {
	if m != nil {
		m.NodeInfo.WithLabelValues(nodeID, protocolVersion).Set(1)
	}
}
