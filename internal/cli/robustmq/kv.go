package robustmq

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// KVCommand returns the kv subcommand group, against MetaKv's generic
// namespace (spec §6's `kv` operation group).
func KVCommand() *cli.Command {
	return &cli.Command{
		Name:  "kv",
		Usage: "Get, set, and list generic key-value entries",
		Subcommands: []*cli.Command{
			{Name: "get", Usage: "Get a value", ArgsUsage: "KEY", Action: kvGet},
			{Name: "set", Usage: "Set a value", ArgsUsage: "KEY VALUE", Action: kvSet},
			{Name: "delete", Usage: "Delete a key", ArgsUsage: "KEY", Action: kvDelete},
			{Name: "list", Usage: "List keys under a prefix", ArgsUsage: "PREFIX", Action: kvList},
		},
	}
}

func kvGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli kv get KEY", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).KvGet(ctx, &v1.KvGetRequest{Key: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	if !res.Found {
		return cli.Exit(fmt.Sprintf("key %q not found", c.Args().First()), ExitNotFound)
	}
	return printResult(c, map[string]any{"key": c.Args().First(), "value": string(res.Value)})
}

func kvSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli kv set KEY VALUE", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).KvSet(ctx, &v1.KvSetRequest{Key: c.Args().Get(0), Value: []byte(c.Args().Get(1))})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"set": c.Args().Get(0)})
}

func kvDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli kv delete KEY", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).KvDelete(ctx, &v1.KvDeleteRequest{Key: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().First()})
}

func kvList(c *cli.Context) error {
	prefix := c.Args().First()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).KvPrefixList(ctx, &v1.KvPrefixListRequest{Prefix: prefix})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Entries)
}
