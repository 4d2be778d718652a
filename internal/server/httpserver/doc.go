// Package httpserver serves the segmesh-server HTTP API.
//
// Routes are implemented in package handler; this package adds the
// listener, the Prometheus endpoint and the middleware chain:
//
//   - RequestID: X-Request-ID propagation (ULIDs when absent)
//   - Recover: panics become 500 responses
//   - Observe: one structured line per request, plus per-route request
//     counters and latency
//   - RateLimit: per-client token buckets on /v1/
//
// Hijacked websocket connections are told to close when the server shuts
// down.
package httpserver
