package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/robustmq/robustmq/internal/cli/robustmq"
)

func main() {
	app := robustmq.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}
