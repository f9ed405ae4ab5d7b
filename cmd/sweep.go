package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/app"
	"github.com/linkvault/linkvault/internal/clock/system"
	"github.com/linkvault/linkvault/internal/scheduler"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck past the hard time limit",
		Long: `Performs one pass of the timeout supervisor: any job that has been
in progress longer than the configured hard limit is marked failed, its
pending captures are failed, and its link is tagged. Useful from cron when
no worker is running.`,
		RunE: runSweepCommand,
	}
}

func runSweepCommand(cmd *cobra.Command, _ []string) error {
	a, err := app.New(cmd.Context(), cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	supervisor := scheduler.NewSupervisor(a.Store, system.Clock{}, a.Config.Capture.JobHardLimit(), a.Logger)
	reaped, err := supervisor.ReapStale(cmd.Context())
	if err != nil {
		return err
	}
	a.Logger.Info("sweep finished", zap.Int("reaped", reaped))
	return nil
}
