package cseg

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	leaves      prometheus.Gauge
	version     prometheus.Gauge
	freeServers prometheus.Gauge
	samples     prometheus.Counter
}

func newMetrics() *metrics {
	const ns, sub = "segmesh", "cseg"
	return &metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "transitions_total",
			Help:      "Published tree transitions by kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "transition_failures_total",
			Help:      "Split or merge attempts that failed, by kind and error code",
		}, []string{"kind", "code"}),
		leaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "leaves",
			Help:      "Leaves in the current tree",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "tree_version",
			Help:      "Version of the current tree snapshot",
		}),
		freeServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "free_servers",
			Help:      "Servers available to take a split region",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "population_samples_total",
			Help:      "Population samples recorded",
		}),
	}
}

// RegisterMetrics registers the rebalancer collectors with reg.
func (r *Rebalancer) RegisterMetrics(reg prometheus.Registerer) error {
	m := r.metrics
	for _, c := range []prometheus.Collector{m.transitions, m.failures, m.leaves, m.version, m.freeServers, m.samples} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
