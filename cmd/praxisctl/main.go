// praxisctl runs the probabilistic risk pipeline over a scenario file.
//
// Usage:
//
//	praxisctl run --scenario=<path> [--priors=<path>] [--config=<path>] [-o <path>]
//	praxisctl validate --scenario=<path>
//	praxisctl priors roll-forward --scenario=<path> [--priors=<path>] --out=<path>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
