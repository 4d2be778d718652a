package config

import "time"

// CLIConfig is the configuration for segmesh-cli.
type CLIConfig struct {
	// Server is the segmesh-server address, host:port or URL.
	Server string `yaml:"server"`

	// Output is the default format: table, json or yaml.
	Output string `yaml:"output"`

	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:  "localhost:5080",
		Output:  "table",
		Timeout: 30 * time.Second,
	}
}
