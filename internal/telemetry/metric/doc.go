// Package metric provides Prometheus plumbing for segmesh binaries.
//
//   - prometheus.go: registry with runtime collectors, HTTP handler
//   - collector.go: HTTP request metrics shared by the servers
//
// Components own their metrics and register them on the registry passed
// in at startup (RegisterMetrics methods). Metrics are exposed at /metrics.
package metric
