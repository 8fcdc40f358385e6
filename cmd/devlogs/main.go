// Command devlogs ingests, tails, searches and rolls up developer logs
// stored in an OpenSearch-compatible index.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dandriscoll/devlogs/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = errInterrupted
	}
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}
