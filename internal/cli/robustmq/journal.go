package robustmq

import (
	"context"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// JournalCommand returns the journal subcommand group. Shard and segment
// lifecycle (spec §4.3-§4.6) are control-plane operations owned by Meta,
// so these subcommands talk to --meta rather than --journal; --journal is
// reserved for a future direct-read subcommand against JournalInner.Read.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Manage journal shards and segments",
		Subcommands: []*cli.Command{
			journalShardCommand(),
			journalSegmentCommand(),
		},
	}
}

func journalShardCommand() *cli.Command {
	return &cli.Command{
		Name:  "shard",
		Usage: "Manage journal shards",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a shard",
				ArgsUsage: "NAMESPACE SHARD_NAME",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "replicas", Value: 3},
					&cli.Int64Flag{Name: "max-segment-bytes", Value: 64 << 20},
					&cli.Int64Flag{Name: "retention-sec", Value: 0},
					&cli.BoolFlag{Name: "durable-sync"},
				},
				Action: journalShardCreate,
			},
			{
				Name:      "delete",
				Usage:     "Delete a shard",
				ArgsUsage: "NAMESPACE SHARD_NAME",
				Action:    journalShardDelete,
			},
		},
	}
}

func journalShardCreate(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli journal shard create NAMESPACE SHARD_NAME", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).CreateShard(ctx, &v1.CreateShardRequest{
		Namespace:      c.Args().Get(0),
		ShardName:      c.Args().Get(1),
		ReplicaNum:     c.Int("replicas"),
		MaxSegmentSize: c.Int64("max-segment-bytes"),
		RetentionSec:   c.Int64("retention-sec"),
		DurableSync:    c.Bool("durable-sync"),
	})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"shard_id": res.ShardID})
}

func journalShardDelete(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli journal shard delete NAMESPACE SHARD_NAME", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteShard(ctx, &v1.DeleteShardRequest{Namespace: c.Args().Get(0), ShardName: c.Args().Get(1)})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().Get(1)})
}

func journalSegmentCommand() *cli.Command {
	return &cli.Command{
		Name:  "segment",
		Usage: "Manage journal segments",
		Subcommands: []*cli.Command{
			{
				Name:      "create-next",
				Usage:     "Roll a shard onto a new active segment",
				ArgsUsage: "NAMESPACE SHARD_NAME",
				Action:    journalSegmentCreateNext,
			},
			{
				Name:      "delete",
				Usage:     "Delete a sealed segment",
				ArgsUsage: "NAMESPACE SHARD_NAME SEGMENT_SEQ",
				Action:    journalSegmentDelete,
			},
		},
	}
}

func journalSegmentCreateNext(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli journal segment create-next NAMESPACE SHARD_NAME", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).CreateNextSegment(ctx, &v1.CreateNextSegmentRequest{Namespace: c.Args().Get(0), ShardName: c.Args().Get(1)})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res)
}

func journalSegmentDelete(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("usage: robustmq-cli journal segment delete NAMESPACE SHARD_NAME SEGMENT_SEQ", ExitValidationError)
	}
	seq, err := strconv.ParseUint(c.Args().Get(2), 10, 32)
	if err != nil {
		return cli.Exit("segment_seq must be a non-negative integer", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = metaClient(c).DeleteSegment(ctx, &v1.DeleteSegmentRequest{
		Namespace: c.Args().Get(0), ShardName: c.Args().Get(1), SegmentSeq: uint32(seq),
	})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted_segment": seq})
}
