// Package buildinfo provides build information for segmesh binaries.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/segmesh-go/internal/infra/buildinfo.Version=v1.0.0"
package buildinfo
