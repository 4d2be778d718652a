// Package config loads the segmesh-cli settings file (~/.segmesh/cli.yaml).
//
// The file holds connection defaults only. Environment variables and
// command-line flags override it.
package config
