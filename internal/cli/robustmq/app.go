package robustmq

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"connectrpc.com/connect"

	jrpc "github.com/robustmq/robustmq/internal/journal/rpc"
	"github.com/robustmq/robustmq/internal/cli/output"
	metarpc "github.com/robustmq/robustmq/internal/meta/rpc"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes, spec §6: 0 success, 1 generic error, 2 validation error,
// 3 not-found, 4 timeout/unavailable.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitValidationError = 2
	ExitNotFound        = 3
	ExitTimeout         = 4
)

// App creates the robustmq-cli application.
func App() *cli.App {
	app := &cli.App{
		Name:    "robustmq-cli",
		Usage:   "RobustMQ cluster administration tool",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ClusterCommand(),
			NodeCommand(),
			MQTTCommand(),
			KVCommand(),
			JournalCommand(),
		},
	}
	return app
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "meta",
			Aliases: []string{"m"},
			Usage:   "meta service address (host:port)",
			EnvVars: []string{"ROBUSTMQ_CLI_META"},
			Value:   "127.0.0.1:9982",
		},
		&cli.StringFlag{
			Name:    "journal",
			Aliases: []string{"j"},
			Usage:   "journal server address (host:port); reserved, the journal subcommands query --meta",
			EnvVars: []string{"ROBUSTMQ_CLI_JOURNAL"},
			Value:   "127.0.0.1:9983",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show wide output (more columns)",
		},
	}
}

// globalFlagValues holds the parsed global flags every subcommand reads.
type globalFlagValues struct {
	Meta    string
	Journal string
	Output  output.Format
	Wide    bool
}

func parseGlobalFlags(c *cli.Context) globalFlagValues {
	return globalFlagValues{
		Meta:    c.String("meta"),
		Journal: c.String("journal"),
		Output:  output.Format(c.String("output")),
		Wide:    c.Bool("wide"),
	}
}

// metaClient builds a meta/rpc.Client addressing the --meta flag.
func metaClient(c *cli.Context) *metarpc.Client {
	g := parseGlobalFlags(c)
	return metarpc.NewClient(http.DefaultClient, "http://"+g.Meta)
}

// journalClient builds a journal/rpc.Client addressing the --journal flag.
func journalClient(c *cli.Context) *jrpc.Client {
	g := parseGlobalFlags(c)
	return jrpc.NewClient(http.DefaultClient, "http://"+g.Journal)
}

// printResult renders data per --output, wrapped as a cli.Action return.
func printResult(c *cli.Context, data any) error {
	g := parseGlobalFlags(c)
	formatter := output.NewFormatter(g.Output, g.Wide)
	if err := formatter.Format(os.Stdout, data); err != nil {
		return cli.Exit(fmt.Errorf("render output: %w", err), ExitError)
	}
	return nil
}

// exitCodeFor maps a Connect-RPC error to spec §6's exit code scheme.
func exitCodeFor(err error) int {
	if ce, ok := err.(*connect.Error); ok {
		switch ce.Code() {
		case connect.CodeNotFound:
			return ExitNotFound
		case connect.CodeInvalidArgument, connect.CodeAlreadyExists, connect.CodeFailedPrecondition:
			return ExitValidationError
		case connect.CodeDeadlineExceeded, connect.CodeUnavailable:
			return ExitTimeout
		}
	}
	return ExitError
}

// fail wraps err as a cli.ExitCoder carrying spec §6's exit code for it, so
// returning it from a command Action sets the process's exit status.
func fail(err error) error {
	return cli.Exit(err, exitCodeFor(err))
}

func parseNodeID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id, nil
}
