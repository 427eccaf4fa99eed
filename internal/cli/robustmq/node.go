package robustmq

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// NodeCommand returns the node subcommand group.
func NodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "Inspect cluster nodes",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List registered nodes",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Usage: "filter by role (meta, broker, journal)"},
				},
				Action: nodeList,
			},
			{
				Name:      "unregister",
				Usage:     "Remove a node from the registry",
				ArgsUsage: "NODE_ID",
				Action:    nodeUnregister,
			},
		},
	}
}

func nodeList(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := metaClient(c).NodeList(ctx, &v1.NodeListRequest{ClusterType: c.String("role")})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Nodes)
}

func nodeUnregister(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli node unregister NODE_ID", ExitValidationError)
	}
	nodeID, err := parseNodeID(c.Args().First())
	if err != nil {
		return cli.Exit(err, ExitValidationError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := metaClient(c).UnRegisterNode(ctx, &v1.UnRegisterNodeRequest{NodeID: nodeID}); err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"unregistered": nodeID})
}
