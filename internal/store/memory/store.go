// Package memory provides an in-memory JobStore for development/testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linkvault/linkvault/internal/capture"
)

// Store keeps links, jobs and captures under a single RW mutex. Reservation
// is a compare-and-set on job status, mirroring the row-lock semantics of
// the Postgres store.
type Store struct {
	mu       sync.RWMutex
	links    map[string]*capture.Link
	jobs     map[int64]*capture.CaptureJob
	captures map[string][]capture.Capture
	nextID   int64
	now      func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		links:    make(map[string]*capture.Link),
		jobs:     make(map[int64]*capture.CaptureJob),
		captures: make(map[string][]capture.Capture),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateLink registers a link (normally done by the CRUD layer).
func (s *Store) CreateLink(_ context.Context, link capture.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link.GUID]; exists {
		return fmt.Errorf("link %s already exists", link.GUID)
	}
	cp := link
	s.links[link.GUID] = &cp
	return nil
}

// CreateJob registers a pending capture job and returns its ID.
func (s *Store) CreateJob(_ context.Context, job capture.CaptureJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job.ID = s.nextID
	job.Status = capture.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	cp := job
	s.jobs[job.ID] = &cp
	return job.ID, nil
}

// PendingJobs lists unreserved jobs ordered by creation time.
func (s *Store) PendingJobs(_ context.Context) ([]capture.PendingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []capture.PendingJob
	for _, job := range s.jobs {
		if job.Status != capture.JobStatusPending {
			continue
		}
		out = append(out, capture.PendingJob{
			ID:        job.ID,
			UserID:    job.UserID,
			Human:     job.Human,
			CreatedAt: job.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReserveJob flips pending -> in_progress atomically.
func (s *Store) ReserveJob(_ context.Context, jobID int64) (*capture.CaptureJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, capture.ErrNotFound
	}
	if job.Status != capture.JobStatusPending {
		return nil, capture.ErrJobTaken
	}
	job.Status = capture.JobStatusInProgress
	start := s.now()
	job.CaptureStart = &start
	cp := *job
	return &cp, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID int64) (*capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, capture.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// GetLink fetches a link by GUID.
func (s *Store) GetLink(_ context.Context, guid string) (*capture.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[guid]
	if !ok {
		return nil, capture.ErrNotFound
	}
	cp := *link
	cp.Tags = append([]string(nil), link.Tags...)
	return &cp, nil
}

// UpdateJobProgress records step_count/step_description.
func (s *Store) UpdateJobProgress(_ context.Context, jobID int64, step float64, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	job.StepCount = step
	job.StepDescription = description
	return nil
}

// IncrementAttempt bumps the attempt counter.
func (s *Store) IncrementAttempt(_ context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	job.Attempt++
	return nil
}

// MarkJobCompleted finalizes a job as completed.
func (s *Store) MarkJobCompleted(_ context.Context, jobID int64, note string) error {
	return s.finishJob(jobID, capture.JobStatusCompleted, note)
}

// MarkJobFailed finalizes a job as failed.
func (s *Store) MarkJobFailed(_ context.Context, jobID int64, reason string) error {
	return s.finishJob(jobID, capture.JobStatusFailed, reason)
}

func (s *Store) finishJob(jobID int64, status capture.JobStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return capture.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %d is already %s", jobID, job.Status)
	}
	job.Status = status
	if note != "" {
		job.StepDescription = note
	}
	end := s.now()
	job.CaptureEnd = &end
	return nil
}

// CreateCaptures stores placeholder capture rows.
func (s *Store) CreateCaptures(_ context.Context, captures []capture.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range captures {
		s.captures[c.LinkGUID] = append(s.captures[c.LinkGUID], c)
	}
	return nil
}

// CapturesForLink returns all capture rows for a link.
func (s *Store) CapturesForLink(_ context.Context, guid string) ([]capture.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]capture.Capture, len(s.captures[guid]))
	copy(out, s.captures[guid])
	return out, nil
}

// UpdateCapture sets status/content type on the first capture with the role.
func (s *Store) UpdateCapture(_ context.Context, guid string, role capture.CaptureRole, status capture.CaptureStatus, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.captures[guid]
	for i := range rows {
		if rows[i].Role != role {
			continue
		}
		rows[i].Status = status
		if contentType != "" {
			rows[i].ContentType = contentType
		}
		return nil
	}
	return capture.ErrNotFound
}

// FailPendingCaptures flips every pending capture of the link to failed.
func (s *Store) FailPendingCaptures(_ context.Context, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.captures[guid]
	for i := range rows {
		if rows[i].Status == capture.CaptureStatusPending {
			rows[i].Status = capture.CaptureStatusFailed
		}
	}
	return nil
}

// SetLinkPrivate flips the privacy flag with a reason code.
func (s *Store) SetLinkPrivate(_ context.Context, guid string, reason capture.PrivateReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[guid]
	if !ok {
		return capture.ErrNotFound
	}
	link.IsPrivate = true
	link.PrivateReason = reason
	return nil
}

// SaveLinkMetadata persists captured title/description.
func (s *Store) SaveLinkMetadata(_ context.Context, guid, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[guid]
	if !ok {
		return capture.ErrNotFound
	}
	if title != "" {
		link.SubmittedTitle = title
	}
	if description != "" {
		link.SubmittedDescription = description
	}
	return nil
}

// SetArchiveSize records the final container size.
func (s *Store) SetArchiveSize(_ context.Context, guid string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[guid]
	if !ok {
		return capture.ErrNotFound
	}
	link.ArchiveSize = size
	return nil
}

// AddLinkTag appends a diagnostic tag, once.
func (s *Store) AddLinkTag(_ context.Context, guid, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[guid]
	if !ok {
		return capture.ErrNotFound
	}
	for _, existing := range link.Tags {
		if existing == tag {
			return nil
		}
	}
	link.Tags = append(link.Tags, tag)
	return nil
}

// StaleJobs returns in_progress jobs started before the cutoff.
func (s *Store) StaleJobs(_ context.Context, cutoff time.Time) ([]capture.CaptureJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []capture.CaptureJob
	for _, job := range s.jobs {
		if job.Status != capture.JobStatusInProgress || job.CaptureStart == nil {
			continue
		}
		if job.CaptureStart.Before(cutoff) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
