package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	cobra.EnableCommandSorting = false

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
