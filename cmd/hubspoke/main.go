// Package main is the entry point for the hubspoke CLI.
//
// hubspoke provisions isolated spoke environments, each a private network
// with one instance, peered with a shared hub network and exposed through a
// shared gateway. It runs one-shot commands or serves an HTTP API.
//
// For detailed usage information, run:
//
//	hubspoke --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/hubspoke/cmd/hubspoke/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
