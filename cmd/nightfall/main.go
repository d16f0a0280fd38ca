// Command nightfall drives the skill orchestrator from the command line.
//
// The run command reads one JSON request per line on stdin and writes one
// JSON reply per line on stdout, so a renderer process can drive sessions
// over a pipe. The other commands inspect the catalog, the tool descriptors
// and the persisted audit trail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
