package robustmq

import (
	"context"
	"time"

	"github.com/urfave/cli/v2"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// ClusterCommand returns the cluster subcommand group.
func ClusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Inspect overall cluster status",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Summarize cluster membership by role and state",
				Action: clusterStatus,
			},
		},
	}
}

type clusterSummaryRow struct {
	Role    string
	Total   int
	Alive   int
	Suspect int
	Dead    int
}

func clusterStatus(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := metaClient(c).NodeList(ctx, &v1.NodeListRequest{})
	if err != nil {
		return fail(err)
	}
	return printResult(c, summarizeByRole(res.Nodes))
}

// summarizeByRole buckets nodes by role and counts them by liveness
// state. A node with multiple roles (e.g. meta+journal) is counted once
// per role it holds. Any state other than "suspect"/"dead" counts as
// alive, matching store.NodeAlive's role as the default state.
func summarizeByRole(nodes []v1.NodeInfo) []clusterSummaryRow {
	counts := make(map[string]*clusterSummaryRow)
	for _, n := range nodes {
		for _, role := range n.Roles {
			row, ok := counts[role]
			if !ok {
				row = &clusterSummaryRow{Role: role}
				counts[role] = row
			}
			row.Total++
			switch n.State {
			case "suspect":
				row.Suspect++
			case "dead":
				row.Dead++
			default:
				row.Alive++
			}
		}
	}

	rows := make([]clusterSummaryRow, 0, len(counts))
	for _, row := range counts {
		rows = append(rows, *row)
	}
	return rows
}
