package robustmq

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// MQTTCommand returns the mqtt subcommand group, covering the MQTT
// control tables meta/store.Store persists: users, ACL rules, the
// blacklist, sessions, and retained messages (spec §4.9). Topic,
// Connector, Auto-Subscribe Rule, and Topic-Rewrite Rule management are
// not yet backed by a Meta table (see DESIGN.md's Open Questions) and so
// have no subcommand here.
func MQTTCommand() *cli.Command {
	return &cli.Command{
		Name:  "mqtt",
		Usage: "Manage MQTT broker control tables",
		Subcommands: []*cli.Command{
			mqttUserCommand(),
			mqttACLCommand(),
			mqttBlacklistCommand(),
			mqttSessionCommand(),
			mqttRetainedCommand(),
		},
	}
}

func mqttUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage MQTT users",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List MQTT users",
				Action: mqttUserList,
			},
			{
				Name:      "put",
				Usage:     "Create or update an MQTT user",
				ArgsUsage: "USERNAME PASSWORD_HASH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "superuser", Usage: "grant superuser privileges"},
				},
				Action: mqttUserPut,
			},
			{
				Name:      "delete",
				Usage:     "Delete an MQTT user",
				ArgsUsage: "USERNAME",
				Action:    mqttUserDelete,
			},
		},
	}
}

func mqttUserList(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).ListUsers(ctx, &v1.ListUsersRequest{})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Users)
}

func mqttUserPut(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli mqtt user put USERNAME PASSWORD_HASH", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).PutUser(ctx, &v1.PutUserRequest{User: v1.MQTTUser{
		Username:     c.Args().Get(0),
		PasswordHash: c.Args().Get(1),
		IsSuperuser:  c.Bool("superuser"),
	}})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"put": c.Args().Get(0)})
}

func mqttUserDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli mqtt user delete USERNAME", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteUser(ctx, &v1.DeleteUserRequest{Username: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().First()})
}

func mqttACLCommand() *cli.Command {
	return &cli.Command{
		Name:  "acl",
		Usage: "Manage MQTT ACL rules",
		Subcommands: []*cli.Command{
			{Name: "list", Usage: "List ACL rules", Action: mqttACLList},
			{
				Name:      "put",
				Usage:     "Create or update an ACL rule",
				ArgsUsage: "ID TOPIC_FILTER ACTION PERMISSION",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username"},
					&cli.StringFlag{Name: "client-id"},
					&cli.StringFlag{Name: "ip-addr"},
				},
				Action: mqttACLPut,
			},
			{Name: "delete", Usage: "Delete an ACL rule", ArgsUsage: "ID", Action: mqttACLDelete},
		},
	}
}

func mqttACLList(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).ListACLs(ctx, &v1.ListACLsRequest{})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Rules)
}

func mqttACLPut(c *cli.Context) error {
	if c.NArg() != 4 {
		return cli.Exit("usage: robustmq-cli mqtt acl put ID TOPIC_FILTER ACTION PERMISSION", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).PutACL(ctx, &v1.PutACLRequest{Rule: v1.ACLRule{
		ID:          c.Args().Get(0),
		TopicFilter: c.Args().Get(1),
		Action:      c.Args().Get(2),
		Permission:  c.Args().Get(3),
		Username:    c.String("username"),
		ClientID:    c.String("client-id"),
		IPAddr:      c.String("ip-addr"),
	}})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"put": c.Args().Get(0)})
}

func mqttACLDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli mqtt acl delete ID", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteACL(ctx, &v1.DeleteACLRequest{ID: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().First()})
}

func mqttBlacklistCommand() *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Manage the connection blacklist",
		Subcommands: []*cli.Command{
			{Name: "list", Usage: "List blacklist entries", Action: mqttBlacklistList},
			{
				Name:      "put",
				Usage:     "Add a blacklist entry",
				ArgsUsage: "KIND VALUE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason"},
					&cli.Int64Flag{Name: "expires-at", Usage: "unix millis, 0 for never"},
				},
				Action: mqttBlacklistPut,
			},
			{
				Name:      "delete",
				Usage:     "Remove a blacklist entry",
				ArgsUsage: "KIND VALUE",
				Action:    mqttBlacklistDelete,
			},
		},
	}
}

func mqttBlacklistList(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).ListBlacklist(ctx, &v1.ListBlacklistRequest{})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Entries)
}

func mqttBlacklistPut(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli mqtt blacklist put KIND VALUE", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).PutBlacklist(ctx, &v1.PutBlacklistRequest{Entry: v1.Blacklist{
		Kind:      c.Args().Get(0),
		Value:     c.Args().Get(1),
		Reason:    c.String("reason"),
		ExpiresAt: c.Int64("expires-at"),
	}})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"put": c.Args().Get(1)})
}

func mqttBlacklistDelete(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: robustmq-cli mqtt blacklist delete KIND VALUE", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteBlacklist(ctx, &v1.DeleteBlacklistRequest{Kind: c.Args().Get(0), Value: c.Args().Get(1)})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().Get(1)})
}

func mqttSessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Inspect and remove persisted MQTT sessions",
		Subcommands: []*cli.Command{
			{Name: "get", Usage: "Get a session by client id", ArgsUsage: "CLIENT_ID", Action: mqttSessionGet},
			{Name: "delete", Usage: "Delete a session", ArgsUsage: "CLIENT_ID", Action: mqttSessionDelete},
		},
	}
}

func mqttSessionGet(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli mqtt session get CLIENT_ID", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).GetSession(ctx, &v1.GetSessionRequest{ClientID: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	if !res.Found {
		return cli.Exit(fmt.Sprintf("session %q not found", c.Args().First()), ExitNotFound)
	}
	return printResult(c, res.Session)
}

func mqttSessionDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli mqtt session delete CLIENT_ID", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteSession(ctx, &v1.DeleteSessionRequest{ClientID: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().First()})
}

func mqttRetainedCommand() *cli.Command {
	return &cli.Command{
		Name:  "retained",
		Usage: "Inspect and remove retained messages",
		Subcommands: []*cli.Command{
			{Name: "list", Usage: "List retained messages", Action: mqttRetainedList},
			{Name: "delete", Usage: "Delete a retained message", ArgsUsage: "TOPIC", Action: mqttRetainedDelete},
		},
	}
}

func mqttRetainedList(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := metaClient(c).ListRetained(ctx, &v1.ListRetainedRequest{})
	if err != nil {
		return fail(err)
	}
	return printResult(c, res.Messages)
}

func mqttRetainedDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: robustmq-cli mqtt retained delete TOPIC", ExitValidationError)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := metaClient(c).DeleteRetained(ctx, &v1.DeleteRetainedRequest{Topic: c.Args().First()})
	if err != nil {
		return fail(err)
	}
	return printResult(c, map[string]any{"deleted": c.Args().First()})
}
