// Command jobmgr is a local background job manager: it queues shell
// commands, executes them with bounded concurrency via a polling daemon, and
// exposes pause/resume and output inspection per job.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		os.Interrupt,
	)
	defer cancel()

	return newCLI().rootCmd().ExecuteContext(ctx)
}
