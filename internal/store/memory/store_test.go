package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linkvault/linkvault/internal/capture"
)

func newTestStore(t *testing.T) (*Store, func() time.Time) {
	t.Helper()
	s := New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })
	return s, func() time.Time { return now }
}

func seedLink(t *testing.T, s *Store, guid string) {
	t.Helper()
	require.NoError(t, s.CreateLink(context.Background(), capture.Link{
		GUID:         guid,
		SubmittedURL: "https://example.com/",
		CreatedBy:    1,
		CreatedAt:    time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}))
}

func TestReserveJobWinsOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "AAAA-BBBB")
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "AAAA-BBBB", UserID: 1})
	require.NoError(t, err)

	job, err := s.ReserveJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusInProgress, job.Status)
	require.NotNil(t, job.CaptureStart)

	_, err = s.ReserveJob(ctx, id)
	require.ErrorIs(t, err, capture.ErrJobTaken)
}

func TestReserveJobConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "AAAA-BBBB")
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "AAAA-BBBB", UserID: 1})
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan int64, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job, err := s.ReserveJob(ctx, id); err == nil {
				wins <- job.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}

func TestPendingJobsOrderedByCreation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "L1")
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.CreateJob(ctx, capture.CaptureJob{
			LinkGUID:  "L1",
			UserID:    1,
			CreatedAt: base.Add(time.Duration(2-i) * time.Minute),
		})
		require.NoError(t, err)
	}

	pending, err := s.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, []int64{3, 2, 1}, []int64{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestFinishJobIsTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "L1")
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.MarkJobFailed(ctx, id, "failed capturing url"))

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, capture.JobStatusFailed, job.Status)
	require.NotNil(t, job.CaptureEnd)
	require.Equal(t, "failed capturing url", job.StepDescription)

	require.Error(t, s.MarkJobCompleted(ctx, id, "done"))
}

func TestFailPendingCapturesLeavesResolved(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "L1")
	require.NoError(t, s.CreateCaptures(ctx, []capture.Capture{
		{LinkGUID: "L1", Role: capture.RolePrimary, Status: capture.CaptureStatusPending},
		{LinkGUID: "L1", Role: capture.RoleScreenshot, Status: capture.CaptureStatusPending},
	}))
	require.NoError(t, s.UpdateCapture(ctx, "L1", capture.RoleScreenshot, capture.CaptureStatusSuccess, "image/png"))

	require.NoError(t, s.FailPendingCaptures(ctx, "L1"))

	rows, err := s.CapturesForLink(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, c := range rows {
		require.NotEqual(t, capture.CaptureStatusPending, c.Status)
	}
	require.Equal(t, capture.CaptureStatusFailed, rows[0].Status)
	require.Equal(t, capture.CaptureStatusSuccess, rows[1].Status)
}

func TestLinkMutations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "L1")

	require.NoError(t, s.SetLinkPrivate(ctx, "L1", capture.ReasonPolicy))
	require.NoError(t, s.SaveLinkMetadata(ctx, "L1", "A Title", "A description"))
	require.NoError(t, s.SetArchiveSize(ctx, "L1", 4096))
	require.NoError(t, s.AddLinkTag(ctx, "L1", "timeout-failure"))
	require.NoError(t, s.AddLinkTag(ctx, "L1", "timeout-failure"))

	link, err := s.GetLink(ctx, "L1")
	require.NoError(t, err)
	require.True(t, link.IsPrivate)
	require.Equal(t, capture.ReasonPolicy, link.PrivateReason)
	require.Equal(t, "A Title", link.SubmittedTitle)
	require.Equal(t, int64(4096), link.ArchiveSize)
	require.Equal(t, []string{"timeout-failure"}, link.Tags)

	// empty values never clobber existing metadata
	require.NoError(t, s.SaveLinkMetadata(ctx, "L1", "", ""))
	link, err = s.GetLink(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, "A Title", link.SubmittedTitle)
}

func TestStaleJobs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "L1")
	seedLink(t, s, "L2")

	old := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return old })
	id1, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id1)
	require.NoError(t, err)

	fresh := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fresh })
	id2, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L2", UserID: 1})
	require.NoError(t, err)
	_, err = s.ReserveJob(ctx, id2)
	require.NoError(t, err)

	stale, err := s.StaleJobs(ctx, fresh.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, id1, stale[0].ID)
}
