package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/server/clusterserver"
	"github.com/yndnr/segmesh-go/internal/servermap"
)

// ServersCommand lists the server directory of the connected server.
func ServersCommand() *cli.Command {
	return &cli.Command{
		Name:   "servers",
		Usage:  "List the server directory",
		Action: serversList,
	}
}

// ClusterCommand returns the cluster subcommand group.
func ClusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Partition replication status",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show leader, voters and members",
				Action: clusterStatus,
			},
		},
	}
}

// ServerMapCommand returns the servermap subcommand group. It works
// offline.
func ServerMapCommand() *cli.Command {
	return &cli.Command{
		Name:  "servermap",
		Usage: "Server directory files",
		Subcommands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Parse a tabular directory file and list its entries",
				ArgsUsage: "FILE",
				Action:    serverMapCheck,
			},
		},
	}
}

func serversList(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	var entries []servermap.Entry
	if err := s.client.Servers(ctx, &entries); err != nil {
		return err
	}
	return s.render(c, entries)
}

func clusterStatus(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	var st clusterserver.Status
	if err := s.client.Cluster(ctx, &st); err != nil {
		return err
	}
	return s.render(c, st)
}

func serverMapCheck(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c, "expected FILE")
	}
	m, err := servermap.LoadTabularFile(c.Args().First())
	if err != nil {
		return err
	}
	return settingsFrom(c).render(c, servermap.Entries(m))
}
