package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
)

// ObjectCommand returns the object subcommand group.
func ObjectCommand() *cli.Command {
	return &cli.Command{
		Name:    "object",
		Aliases: []string{"obj"},
		Usage:   "Object owner lookups and updates",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show the server owning an object",
				ArgsUsage: "OBJECT_ID",
				Action:    objectGet,
			},
			{
				Name:      "put",
				Usage:     "Record the server owning an object",
				ArgsUsage: "OBJECT_ID",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "owner",
						Usage:    "Owning server id",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "radius",
						Usage: "Object radius",
					},
					&cli.UintFlag{
						Name:  "epoch",
						Usage: "Write epoch (0 lets the server stamp one)",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for the backing store to acknowledge",
					},
				},
				Action: objectPut,
			},
		},
	}
}

func objectID(c *cli.Context) (domain.ObjectID, error) {
	if c.NArg() != 1 {
		return domain.ObjectID{}, usageError(c, "expected OBJECT_ID")
	}
	id, err := domain.ParseObjectID(c.Args().First())
	if err != nil {
		return domain.ObjectID{}, usageError(c, "%v", err)
	}
	return id, nil
}

func objectGet(c *cli.Context) error {
	id, err := objectID(c)
	if err != nil {
		return err
	}

	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	obj, err := s.client.Object(ctx, id)
	if err != nil {
		return err
	}
	return s.render(c, obj)
}

func objectPut(c *cli.Context) error {
	id, err := objectID(c)
	if err != nil {
		return err
	}

	owner := domain.ServerID(c.Uint("owner"))
	if !owner.Valid() {
		return usageError(c, "--owner must be a valid server id")
	}
	epoch := c.Uint("epoch")
	if epoch > 0xffff {
		return usageError(c, "--epoch %d out of range", epoch)
	}
	radius := c.Float64("radius")
	if radius < 0 {
		return usageError(c, "--radius must not be negative")
	}

	s := settingsFrom(c)
	ctx, cancel := s.requestContext(c)
	defer cancel()

	req := handler.UpsertRequest{
		Owner:  owner,
		Radius: float32(radius),
		Epoch:  uint16(epoch),
		Wait:   c.Bool("wait"),
	}
	if err := s.client.PutObject(ctx, id, req); err != nil {
		return err
	}

	if !s.table() {
		return s.render(c, map[string]any{"object_id": id.String(), "owner": owner, "stored": req.Wait})
	}
	if req.Wait {
		fmt.Fprintf(c.App.Writer, "%s stored (owner %s)\n", id, owner)
	} else {
		fmt.Fprintf(c.App.Writer, "%s queued (owner %s)\n", id, owner)
	}
	return nil
}
