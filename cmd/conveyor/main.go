// cmd/conveyor/main.go
//
// Entry point for the conveyor CLI. Command wiring lives in internal/cli;
// this file only installs signal handling and maps the result to an exit
// status.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/conveyorci/conveyor/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	root.SetArgs(os.Args[1:])
	code := 0
	if err := root.ExecuteContext(ctx); err != nil {
		code = cli.ExitCodeFor(err)
	}
	stop()
	os.Exit(code)
}
