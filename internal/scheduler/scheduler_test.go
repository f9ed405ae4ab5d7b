package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
	"github.com/linkvault/linkvault/internal/store/memory"
)

func seedJobs(t *testing.T, s *memory.Store, users []int64, human bool) []int64 {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	ids := make([]int64, len(users))
	for i, user := range users {
		guid := string(rune('A'+i)) + "-LINK"
		require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: guid, CreatedBy: user}))
		id, err := s.CreateJob(ctx, capture.CaptureJob{
			LinkGUID:  guid,
			UserID:    user,
			Human:     human,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestNextRoundRobinAcrossUsers(t *testing.T) {
	s := memory.New()
	// submission order: user 1 owns jobs 0,1,2,4,5,6 and user 2 owns 3,7
	ids := seedJobs(t, s, []int64{1, 1, 1, 2, 1, 1, 1, 2}, false)
	sched := New(s, zap.NewNop())

	var got []int64
	for {
		job, err := sched.Next(context.Background())
		require.NoError(t, err)
		if job == nil {
			break
		}
		got = append(got, job.ID)
	}

	want := []int64{ids[0], ids[3], ids[1], ids[7], ids[2], ids[4], ids[5], ids[6]}
	require.Equal(t, want, got)
}

func TestNextPrefersHumanJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	robotIDs := seedJobs(t, s, []int64{1, 1}, false)
	require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: "H-LINK", CreatedBy: 2}))
	humanID, err := s.CreateJob(ctx, capture.CaptureJob{
		LinkGUID:  "H-LINK",
		UserID:    2,
		Human:     true,
		CreatedAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	sched := New(s, zap.NewNop())
	job, err := sched.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, humanID, job.ID)

	job, err = sched.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, robotIDs[0], job.ID)
}

// contentionStore simulates another worker winning the reservation for one
// specific job.
type contentionStore struct {
	*memory.Store
	takenID int64
}

func (c *contentionStore) ReserveJob(ctx context.Context, jobID int64) (*capture.CaptureJob, error) {
	if jobID == c.takenID {
		return nil, capture.ErrJobTaken
	}
	return c.Store.ReserveJob(ctx, jobID)
}

func TestNextSkipsContendedJob(t *testing.T) {
	mem := memory.New()
	ids := seedJobs(t, mem, []int64{1, 2}, false)
	s := &contentionStore{Store: mem, takenID: ids[0]}

	sched := New(s, zap.NewNop())
	job, err := sched.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, ids[1], job.ID)
}

func TestNextIdleWhenNothingPending(t *testing.T) {
	sched := New(memory.New(), zap.NewNop())
	job, err := sched.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestReapStaleFailsOverdueJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return start })

	require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: "L1", CreatedBy: 1}))
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.CreateCaptures(ctx, []capture.Capture{
		{LinkGUID: "L1", Role: capture.RolePrimary, Status: capture.CaptureStatusPending},
	}))

	now := start.Add(time.Hour)
	clock := fixedClock{now: now}
	sup := NewSupervisor(s, clock, 10*time.Minute, zap.NewNop())

	reaped, err := sup.ReapStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusFailed, job.Status)

	caps, err := s.CapturesForLink(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, capture.CaptureStatusFailed, caps[0].Status)

	link, err := s.GetLink(ctx, "L1")
	require.NoError(t, err)
	require.Contains(t, link.Tags, HardTimeoutTag)
}

func TestReapStaleIsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return start })

	require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: "L1", CreatedBy: 1}))
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id)
	require.NoError(t, err)

	clock := fixedClock{now: start.Add(time.Hour)}
	sup := NewSupervisor(s, clock, 10*time.Minute, zap.NewNop())

	reaped, err := sup.ReapStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	reaped, err = sup.ReapStale(ctx)
	require.NoError(t, err)
	require.Zero(t, reaped)
}

func TestReapStaleLeavesFreshJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: "L1", CreatedBy: 1}))
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id)
	require.NoError(t, err)

	sup := NewSupervisor(s, fixedClock{now: now.Add(time.Minute)}, 10*time.Minute, zap.NewNop())
	reaped, err := sup.ReapStale(ctx)
	require.NoError(t, err)
	require.Zero(t, reaped)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusInProgress, job.Status)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
