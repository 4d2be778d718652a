package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

// CSegCommand returns the cseg subcommand group.
func CSegCommand() *cli.Command {
	return &cli.Command{
		Name:  "cseg",
		Usage: "Spatial partition commands",
		Subcommands: []*cli.Command{
			{
				Name:      "lookup",
				Usage:     "Show the server owning a point",
				ArgsUsage: "X Y Z",
				Action:    csegLookup,
			},
			{
				Name:   "leaves",
				Usage:  "List the leaves of the partition",
				Action: csegLeaves,
			},
			{
				Name:      "sample",
				Usage:     "Report a population sample at a point or leaf",
				ArgsUsage: "[X Y Z]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Usage: "Leaf path instead of a point",
					},
					&cli.Float64Flag{
						Name:  "weight",
						Usage: "Sample weight",
						Value: 1,
					},
				},
				Action: csegSample,
			},
			{
				Name:  "watch",
				Usage: "Stream partition changes",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "count",
						Usage: "Stop after this many messages (0 streams until interrupted)",
					},
				},
				Action: csegWatch,
			},
		},
	}
}

func parsePoint(c *cli.Context) (domain.Vector3, error) {
	if c.NArg() != 3 {
		return domain.Vector3{}, usageError(c, "expected X Y Z")
	}
	var xyz [3]float64
	for i := range xyz {
		v, err := strconv.ParseFloat(c.Args().Get(i), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Vector3{}, usageError(c, "invalid coordinate %q", c.Args().Get(i))
		}
		xyz[i] = v
	}
	return domain.Vector3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func csegLookup(c *cli.Context) error {
	p, err := parsePoint(c)
	if err != nil {
		return err
	}

	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	resp, err := s.client.Lookup(ctx, p)
	if err != nil {
		return err
	}
	return s.render(c, resp)
}

func csegLeaves(c *cli.Context) error {
	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	resp, err := s.client.Leaves(ctx)
	if err != nil {
		return err
	}
	if !s.table() {
		return s.render(c, resp)
	}
	fmt.Fprintf(c.App.Writer, "version %d, world %s\n\n", resp.Version, resp.World)
	return s.render(c, resp.Leaves)
}

func csegSample(c *cli.Context) error {
	sample := handler.Sample{
		Path:   c.String("path"),
		Weight: c.Float64("weight"),
	}
	if sample.Path == "" {
		p, err := parsePoint(c)
		if err != nil {
			return err
		}
		sample.X, sample.Y, sample.Z = p.X, p.Y, p.Z
	} else if c.NArg() != 0 {
		return usageError(c, "--path and a point are exclusive")
	}
	if sample.Weight <= 0 || math.IsInf(sample.Weight, 0) || math.IsNaN(sample.Weight) {
		return usageError(c, "--weight must be positive")
	}

	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	resp, err := s.client.Samples(ctx, []handler.Sample{sample})
	if err != nil {
		return err
	}
	if resp.Rejected > 0 {
		return errors.New("sample rejected: outside the partition")
	}
	return s.render(c, resp)
}

var errWatchDone = errors.New("watch done")

func csegWatch(c *cli.Context) error {
	s := settingsFrom(c)
	limit := c.Int("count")

	seen := 0
	err := s.client.Watch(c.Context, func(msg handler.WatchMessage) error {
		if s.table() {
			fmt.Fprintln(c.App.Writer, describeWatch(msg))
		} else if err := s.render(c, msg); err != nil {
			return err
		}
		seen++
		if limit > 0 && seen >= limit {
			return errWatchDone
		}
		return nil
	})
	if errors.Is(err, errWatchDone) {
		return nil
	}
	return err
}

// describeWatch renders one watch message as a log line.
func describeWatch(msg handler.WatchMessage) string {
	t := msg.Transition
	if t == nil {
		return fmt.Sprintf("v%d %s leaves=%d", msg.Version, msg.Type, msg.Leaves)
	}
	switch t.Kind {
	case cseg.KindSplit:
		return fmt.Sprintf("v%d split %q at %s=%g -> %s,%s leaves=%d",
			msg.Version, t.Path, t.Axis, t.Value, t.LeftOwner, t.RightOwner, msg.Leaves)
	case cseg.KindMerge:
		return fmt.Sprintf("v%d merge %q -> %s released %s leaves=%d",
			msg.Version, t.Path, t.Owner, t.Released, msg.Leaves)
	default:
		return fmt.Sprintf("v%d %s %q leaves=%d", msg.Version, t.Kind, t.Path, msg.Leaves)
	}
}
