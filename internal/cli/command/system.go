package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/infra/buildinfo"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health and counters",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: systemHealth,
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can answer requests",
				Action: systemReady,
			},
			{
				Name:   "stats",
				Usage:  "Show object index counters",
				Action: systemStats,
			},
			{
				Name:   "version",
				Usage:  "Show the CLI build",
				Action: systemVersion,
			},
		},
	}
}

func systemHealth(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	if !s.table() {
		return s.render(c, result)
	}
	fmt.Fprintf(c.App.Writer, "✓ Server is %v\n", result["status"])
	fmt.Fprintf(c.App.Writer, "  Target: %s\n", s.client.BaseURL())
	return nil
}

func systemReady(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.client.Ready(ctx)
	if err != nil {
		return err
	}
	if !s.table() {
		return s.render(c, result)
	}
	fmt.Fprintf(c.App.Writer, "✓ Server is ready\n")
	if checks, ok := result["checks"].(map[string]any); ok && len(checks) > 0 {
		return s.render(c, checks)
	}
	return nil
}

func systemStats(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	stats, err := s.client.Stats(ctx)
	if err != nil {
		return err
	}
	return s.render(c, stats)
}

func systemVersion(c *cli.Context) error {
	return settingsFrom(c).render(c, buildinfo.Get())
}
