package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/analyzer"
	"github.com/linkvault/linkvault/internal/api"
	"github.com/linkvault/linkvault/internal/app"
	"github.com/linkvault/linkvault/internal/archive"
	"github.com/linkvault/linkvault/internal/clock/system"
	"github.com/linkvault/linkvault/internal/progress"
	"github.com/linkvault/linkvault/internal/scheduler"
	"github.com/linkvault/linkvault/internal/worker"
)

func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Run the capture worker",
		Long: `Runs the capture drain loop: sweep stale jobs, reserve the next job
fairly across users, capture it, repeat. Also serves health, metrics and
job progress over HTTP.`,
		RunE: runCaptureCommand,
	}
}

func runCaptureCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.Config
	logger := a.Logger

	clk := system.Clock{}
	sched := scheduler.New(a.Store, logger)
	supervisor := scheduler.NewSupervisor(a.Store, clk, cfg.Capture.JobHardLimit(), logger)
	robots := analyzer.NewRobotsChecker(cfg.Privacy.AgentName, cfg.Capture.RobotsTimeout(), logger)

	hub := progress.NewHub(progress.Config{Logger: logger},
		progress.NewStoreSink(a.Store),
		progress.NewLogSink(logger),
		progress.NewPromSink())
	defer hub.Close()

	sessions, err := worker.ChromeSessionFactory(cfg.Proxy, cfg.Browser,
		cfg.Capture.AfterLoadTimeout(), logger)
	if err != nil {
		return fmt.Errorf("init session factory: %w", err)
	}

	w := worker.New(worker.Config{
		MaxArchiveBytes:     cfg.Capture.MaxArchiveBytes,
		ResourceLoadTimeout: cfg.Capture.ResourceLoadTimeout(),
		OnloadTimeout:       cfg.Capture.OnloadTimeout(),
		AfterLoadTimeout:    cfg.Capture.AfterLoadTimeout(),
		ShutdownGrace:       cfg.Capture.ShutdownGrace(),
		MonitorInterval:     cfg.Proxy.MonitorInterval(),
		IdlePoll:            cfg.Capture.IdlePoll(),
		MaxScreenshotPixels: cfg.Capture.MaxScreenshotPixels,
		AgentName:           cfg.Privacy.AgentName,
		GenericNoarchive:    cfg.Privacy.GenericNoarchive,
		PrivateOnFailure:    cfg.Privacy.PrivateOnFailure,
		PreservationTopic:   cfg.Publisher.Topic,
	}, a.Store, archive.NewWriter(a.Blobs, logger), a.Publisher,
		sched, supervisor, robots, hub, clk, sessions,
		cfg.Browser.AgentForDomain, logger)

	server := api.New(fmt.Sprintf(":%d", cfg.Server.Port), a.Store, logger)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Error("api server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("capture worker starting")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("capture worker stopped")
	return nil
}
