package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/infra/confloader"
	srvconfig "github.com/yndnr/segmesh-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration files",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective CLI settings",
				Action: configShow,
			},
			{
				Name:      "check",
				Usage:     "Validate a segmesh-server or segmesh-kvd configuration file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "kvd",
						Usage: "Check as a segmesh-kvd file",
					},
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Reject keys no setting is named after",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "show",
						Usage: "Print the merged configuration with secrets masked",
					},
				},
				Action: configCheck,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	s := settingsFrom(c)
	return s.render(c, map[string]any{
		"file":    c.String("config"),
		"server":  s.client.BaseURL(),
		"output":  string(s.format),
		"timeout": s.timeout.String(),
	})
}

// configCheck loads FILE the way the server does, environment overrides
// included.
func configCheck(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c, "expected FILE")
	}
	path := c.Args().First()
	s := settingsFrom(c)

	var merged any
	if c.Bool("kvd") {
		cfg := srvconfig.DefaultKVD()
		loader := confloader.NewLoader(
			confloader.WithConfigFile(path),
			confloader.WithEnvPrefix("SEGMESH_KVD_"),
			confloader.WithStrict(c.Bool("strict")),
		)
		if err := loader.Load(cfg); err != nil {
			return err
		}
		if err := srvconfig.VerifyKVD(cfg); err != nil {
			return err
		}
		merged = cfg
	} else {
		cfg := srvconfig.Default()
		loader := confloader.NewLoader(
			confloader.WithConfigFile(path),
			confloader.WithEnvAliases(srvconfig.EnvAliases),
			confloader.WithStrict(c.Bool("strict")),
		)
		if err := loader.Load(cfg); err != nil {
			return err
		}
		if err := srvconfig.Verify(cfg); err != nil {
			return err
		}
		merged = srvconfig.Sanitize(cfg)
	}

	if c.Bool("show") {
		return s.render(c, merged)
	}
	fmt.Fprintf(c.App.Writer, "%s: configuration is valid\n", path)
	return nil
}
