package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/cli/config"
	"github.com/yndnr/segmesh-go/internal/cli/connection"
	"github.com/yndnr/segmesh-go/internal/cli/output"
	"github.com/yndnr/segmesh-go/internal/infra/buildinfo"
)

const settingsKey = "settings"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "segmesh-cli",
		Usage:   "segmesh command-line tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ObjectCommand(),
			CSegCommand(),
			ServersCommand(),
			ClusterCommand(),
			ServerMapCommand(),
			ConfigCommand(),
			SystemCommand(),
			ShellCommand(),
		},
		Metadata: make(map[string]any),
		Before:   loadSettings,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "CLI settings file",
			Value: config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "segmesh-server address (default: localhost:5080)",
			EnvVars: []string{config.EnvServer},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout (default: 30s)",
		},
	}
}

// settings is the resolved connection and output configuration of one
// invocation.
type settings struct {
	client  *connection.HTTPClient
	format  output.Format
	wide    bool
	timeout time.Duration
}

// loadSettings merges the settings file, environment and flags.
func loadSettings(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("server"); v != "" {
		cfg.Server = v
	}
	if v := c.String("output"); v != "" {
		cfg.Output = v
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}

	c.App.Metadata[settingsKey] = &settings{
		client:  connection.NewHTTPClient(cfg.Server, connection.WithUserAgent(buildinfo.UserAgent("segmesh-cli"))),
		format:  format,
		wide:    c.Bool("wide"),
		timeout: cfg.Timeout,
	}
	return nil
}

func settingsFrom(c *cli.Context) *settings {
	s, ok := c.App.Metadata[settingsKey].(*settings)
	if !ok {
		panic("command: settings not loaded")
	}
	return s
}

// requestContext bounds one request by the configured timeout.
func (s *settings) requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(c.Context)
	}
	return context.WithTimeout(c.Context, s.timeout)
}

func (s *settings) render(c *cli.Context, data any) error {
	return output.NewFormatter(s.format, s.wide).Format(c.App.Writer, data)
}

// table reports whether output is for humans.
func (s *settings) table() bool {
	return s.format == output.FormatTable
}

// usageError reports bad arguments.
func usageError(c *cli.Context, format string, args ...any) error {
	return fmt.Errorf("%s: %s", c.Command.FullName(), fmt.Sprintf(format, args...))
}
