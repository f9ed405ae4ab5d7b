// Package scheduler selects and reserves capture jobs fairly, and sweeps
// jobs that outlived the hard time limit.
package scheduler

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Scheduler hands out pending jobs one at a time. Selection is fair across
// submitting users: a user who just received a slot ranks behind users still
// waiting for one, until their queue drains. Human-submitted jobs always
// outrank automated ones.
type Scheduler struct {
	store  capture.JobStore
	logger *zap.Logger

	// jobs served per user since that user's queue last drained, kept
	// separately for the human and automated tiers.
	servedHuman map[int64]int
	servedRobot map[int64]int
}

// New constructs a Scheduler.
func New(store capture.JobStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		logger:      logger,
		servedHuman: make(map[int64]int),
		servedRobot: make(map[int64]int),
	}
}

// Next reserves and returns the next fair job, or (nil, nil) when no job is
// eligible. Reservation contention is handled by moving on to the next fair
// candidate; it never surfaces as an error.
func (s *Scheduler) Next(ctx context.Context) (*capture.CaptureJob, error) {
	pending, err := s.store.PendingJobs(ctx)
	if err != nil {
		return nil, err
	}
	s.resetDrained(pending)

	candidates := s.fairOrder(pending)
	for _, c := range candidates {
		job, err := s.store.ReserveJob(ctx, c.ID)
		if errors.Is(err, capture.ErrJobTaken) || errors.Is(err, capture.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.served(c.Human)[c.UserID]++
		return job, nil
	}
	return nil, nil
}

func (s *Scheduler) served(human bool) map[int64]int {
	if human {
		return s.servedHuman
	}
	return s.servedRobot
}

// resetDrained clears the served counter for users with an empty queue, so
// their next submission starts a fresh round.
func (s *Scheduler) resetDrained(pending []capture.PendingJob) {
	waitingHuman := make(map[int64]bool)
	waitingRobot := make(map[int64]bool)
	for _, j := range pending {
		if j.Human {
			waitingHuman[j.UserID] = true
		} else {
			waitingRobot[j.UserID] = true
		}
	}
	for user := range s.servedHuman {
		if !waitingHuman[user] {
			delete(s.servedHuman, user)
		}
	}
	for user := range s.servedRobot {
		if !waitingRobot[user] {
			delete(s.servedRobot, user)
		}
	}
}

// fairOrder ranks each job by its position in its user's queue plus the
// user's served count, then sorts by (tier, rank, age, id). The head of the
// result is the job the scheduler should try first; the tail provides
// fallbacks for reservation contention.
func (s *Scheduler) fairOrder(pending []capture.PendingJob) []capture.PendingJob {
	type ranked struct {
		job  capture.PendingJob
		rank int
	}

	// pending is ordered oldest-first by the store, so per-user positions
	// follow from a single pass.
	position := make(map[int64]int)
	out := make([]ranked, 0, len(pending))
	for _, j := range pending {
		key := j.UserID
		if j.Human {
			key = -j.UserID - 1
		}
		out = append(out, ranked{job: j, rank: position[key] + s.served(j.Human)[j.UserID]})
		position[key]++
	}

	sort.SliceStable(out, func(i, k int) bool {
		a, b := out[i], out[k]
		if a.job.Human != b.job.Human {
			return a.job.Human
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.job.ID < b.job.ID
	})

	jobs := make([]capture.PendingJob, len(out))
	for i, r := range out {
		jobs[i] = r.job
	}
	return jobs
}
