package oseg

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	lookups       *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	coalesced     prometheus.Counter
	storeRequests *prometheus.CounterVec
	retries       prometheus.Counter
	pending       prometheus.Gauge
	owned         prometheus.Gauge
}

func newMetrics() *metrics {
	const ns, sub = "segmesh", "oseg"
	return &metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lookups_total",
			Help:      "Resolved lookups by outcome",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_hits_total",
			Help:      "Lookups answered from the cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_misses_total",
			Help:      "Lookups that went to the backing store",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "coalesced_lookups_total",
			Help:      "Lookups attached to an in-flight request",
		}),
		storeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "store_requests_total",
			Help:      "Requests issued to the backing store",
		}, []string{"op"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "retries_total",
			Help:      "Backing store requests retried after an error or timeout",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pending_lookups",
			Help:      "Keys with a lookup in flight",
		}),
		owned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "owned_objects",
			Help:      "Objects owned by this server",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.lookups, m.cacheHits, m.cacheMisses, m.coalesced,
		m.storeRequests, m.retries, m.pending, m.owned,
	}
}

// RegisterMetrics registers the index collectors with reg.
func (i *Index) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range i.metrics.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
