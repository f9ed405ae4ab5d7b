// Package cmd defines the CLI commands for the linkvault capture service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkvault",
		Short: "Web page capture service",
		Long: `linkvault captures live web pages into durable, replayable archive
containers. A capture drives a headless browser through a recording proxy,
honors robots and noarchive signals, and assembles the recorded traffic
plus a screenshot into one WARC container per link.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults to environment variables)")
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
