package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/cli/repl"
)

// ShellCommand returns the interactive mode.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "history",
				Usage: "History file (empty keeps history in memory)",
				Value: repl.DefaultHistoryPath(),
			},
		},
		Action: shell,
	}
}

func shell(c *cli.Context) error {
	s := settingsFrom(c)

	// Each line runs as a fresh invocation with the session's settings in
	// front, so global flags on the line still win.
	base := []string{
		c.App.Name,
		"--config", c.String("config"),
		"--server", s.client.BaseURL(),
		"--output", string(s.format),
		"--timeout", s.timeout.String(),
	}
	if s.wide {
		base = append(base, "--wide")
	}

	exec := func(ctx context.Context, args []string) error {
		if len(args) > 0 && args[0] == "shell" {
			return errors.New("already in a shell")
		}
		app := App()
		app.Reader = c.App.Reader
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.ExitErrHandler = func(*cli.Context, error) {}
		return app.RunContext(ctx, append(append([]string(nil), base...), args...))
	}

	history := repl.NewHistory(c.String("history"), repl.DefaultHistorySize)
	if err := history.Load(); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: history not loaded: %v\n", err)
	}

	r := repl.New(c.App.Reader, c.App.Writer, exec, repl.NewCompleter(commandPaths(c.App.Commands, "")), history)
	err := r.Run(c.Context)
	if serr := history.Save(); serr != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: history not saved: %v\n", serr)
	}
	return err
}

// commandPaths lists every command and subcommand as space-joined paths.
func commandPaths(cmds []*cli.Command, prefix string) []string {
	var paths []string
	for _, cmd := range cmds {
		if cmd.Hidden || cmd.Name == "shell" || cmd.Name == "help" {
			continue
		}
		path := prefix + cmd.Name
		paths = append(paths, path)
		paths = append(paths, commandPaths(cmd.Subcommands, path+" ")...)
	}
	return paths
}
