package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "helpdesk",
		Short:         "Helpdesk ticket lifecycle and webhook ingestion service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSweepCommand(),
		newTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
