// Command prepare plans the forcing exports of a run and drives them through
// the worker's jobs API.
//
// Usage:
//
//	prepare plan   -c run.yaml
//	prepare submit -c run.yaml --await
//	prepare status <job-id>...
//	prepare cancel <job-id>...
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
