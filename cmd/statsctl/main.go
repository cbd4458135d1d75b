// statsctl queries a LogicNet validator proxy and prints dashboard aggregates.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aitprotocol/logicnet-dashboard/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &cli.Options{}
	rootCmd := cli.NewRootCmd(opts)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cli.LogErrorCmd(rootCmd, opts, err)
		stop()
		os.Exit(1)
	}
}
