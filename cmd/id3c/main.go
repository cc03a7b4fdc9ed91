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

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "id3c",
		Short:        "Infectious disease data distribution center",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("pretty", false, "Human-readable console logging")
	root.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (trace, debug, info, warn, error)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(etlCmd())
	root.AddCommand(identifierCmd())
	root.AddCommand(receivingCmd())
	root.AddCommand(locationCmd())
	return root
}
