package kvserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/segmesh-go/internal/craq"
)

type metrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
	rejected    prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segmesh",
			Subsystem: "kvd",
			Name:      "requests_total",
			Help:      "Requests served, by command and response.",
		}, []string{"command", "response"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "segmesh",
			Subsystem: "kvd",
			Name:      "request_duration_seconds",
			Help:      "Time spent applying a request to the engine.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"command"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segmesh",
			Subsystem: "kvd",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segmesh",
			Subsystem: "kvd",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-client rate limit.",
		}),
	}
}

func (m *metrics) observe(cmd string, kind craq.ResponseKind, d time.Duration) {
	m.requests.WithLabelValues(cmd, kind.String()).Inc()
	m.duration.WithLabelValues(cmd).Observe(d.Seconds())
}

// RegisterMetrics registers the server's collectors with reg.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	m := s.handler.metrics
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.connections, m.rejected} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
