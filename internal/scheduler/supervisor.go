package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// HardTimeoutTag marks links whose capture job was reaped by the supervisor.
const HardTimeoutTag = "hard-timeout-failure"

// Supervisor fails jobs that have been in progress longer than the hard
// limit. It runs before each scheduling cycle so a crashed or wedged worker
// cannot hold a reservation forever.
type Supervisor struct {
	store     capture.JobStore
	clock     capture.Clock
	hardLimit time.Duration
	logger    *zap.Logger
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(store capture.JobStore, clock capture.Clock, hardLimit time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{store: store, clock: clock, hardLimit: hardLimit, logger: logger}
}

// ReapStale fails every job started before now minus the hard limit, flips
// its pending captures to failed and tags the link. Returns the number of
// jobs reaped; a sweep with nothing stale is a no-op.
func (s *Supervisor) ReapStale(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.hardLimit)
	stale, err := s.store.StaleJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		if err := s.store.MarkJobFailed(ctx, job.ID, "failed capturing url"); err != nil {
			// another sweep may have won the race; skip, keep sweeping
			s.logger.Warn("could not fail stale job",
				zap.Int64("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := s.store.FailPendingCaptures(ctx, job.LinkGUID); err != nil {
			s.logger.Warn("could not fail pending captures",
				zap.String("link", job.LinkGUID), zap.Error(err))
		}
		if err := s.store.AddLinkTag(ctx, job.LinkGUID, HardTimeoutTag); err != nil {
			s.logger.Warn("could not tag link",
				zap.String("link", job.LinkGUID), zap.Error(err))
		}
		capture.ReapedJobs.Inc()
		s.logger.Info("reaped stale capture job",
			zap.Int64("job_id", job.ID),
			zap.String("link", job.LinkGUID),
			zap.Timep("started", job.CaptureStart))
		reaped++
	}
	return reaped, nil
}
