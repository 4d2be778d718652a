// Package config provides server configuration for segmesh.
//
// This package defines the configuration structures and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (ranges, addresses, world volume)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - convert.go, cluster.go: mapping onto component configurations
//   - kvd.go: segmesh-kvd configuration
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and SEGMESH_ environment variables.
package config
