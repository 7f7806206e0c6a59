// Command kb-host is the native-messaging host of the knowledge-base browser
// extension. Each invocation answers one framed request on stdin/stdout.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/kbhost/pkg/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, os.Args, version); err != nil {
		stop()
		os.Exit(1)
	}
}
