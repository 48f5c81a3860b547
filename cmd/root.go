// Package cmd defines the CLI commands for the phasetrack executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phasetrack",
		Short: "Progress aggregation and phase transition service.",
		Long: `phasetrack runs a cycle scheduler that aggregates the progress
reported by tracked tasks, decides phase transitions when the work is
complete, and exposes the live aggregates and run history over HTTP.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
