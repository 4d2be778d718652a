// Package handler implements the segmesh-server HTTP API.
//
// Routes:
//
//   - health.go: /healthz, /readyz
//   - oseg.go: object owner lookup and upsert
//   - cseg.go: point lookup, leaves, population samples
//   - watch.go: websocket stream of tree transitions
//   - servers.go: server directory and cluster status
//   - handoff.go: ownership handoff phases sent by the rebalancer
//
// Every JSON response uses the Response envelope. Errors carry the
// domain error code, and the HTTP status is derived from it.
package handler
