// Package postgres provides the Postgres-backed JobStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkvault/linkvault/internal/capture"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements capture.JobStore against Postgres. Job reservation uses
// an UPDATE guarded on status, so the row lock is the cross-process mutex.
type Store struct {
	pool pool
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// PendingJobs lists unreserved jobs ordered by creation time.
func (s *Store) PendingJobs(ctx context.Context) ([]capture.PendingJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, human, created_at
FROM capture_jobs
WHERE status = 'pending'
ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var out []capture.PendingJob
	for rows.Next() {
		var j capture.PendingJob
		if err := rows.Scan(&j.ID, &j.UserID, &j.Human, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}
	return out, nil
}

// ReserveJob flips pending -> in_progress; the guarded UPDATE makes exactly
// one concurrent caller win.
func (s *Store) ReserveJob(ctx context.Context, jobID int64) (*capture.CaptureJob, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE capture_jobs
SET status = 'in_progress', capture_start = now()
WHERE id = $1 AND status = 'pending'
RETURNING id, link_guid, user_id, human, status, attempt, step_count, step_description, capture_start, capture_end, created_at`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, capture.ErrJobTaken
		}
		return nil, fmt.Errorf("reserve job %d: %w", jobID, err)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID int64) (*capture.CaptureJob, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, link_guid, user_id, human, status, attempt, step_count, step_description, capture_start, capture_end, created_at
FROM capture_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, capture.ErrNotFound
		}
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}

// GetLink fetches a link by GUID.
func (s *Store) GetLink(ctx context.Context, guid string) (*capture.Link, error) {
	row := s.pool.QueryRow(ctx, `
SELECT guid, submitted_url, submitted_title, submitted_description, default_title,
       is_private, COALESCE(private_reason, ''), created_by, created_at, user_deleted, archive_size
FROM links WHERE guid = $1`, guid)
	var l capture.Link
	err := row.Scan(&l.GUID, &l.SubmittedURL, &l.SubmittedTitle, &l.SubmittedDescription,
		&l.DefaultTitle, &l.IsPrivate, &l.PrivateReason, &l.CreatedBy, &l.CreatedAt,
		&l.UserDeleted, &l.ArchiveSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, capture.ErrNotFound
		}
		return nil, fmt.Errorf("get link %s: %w", guid, err)
	}
	return &l, nil
}

// UpdateJobProgress records step_count/step_description.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID int64, step float64, description string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE capture_jobs SET step_count = $2, step_description = $3 WHERE id = $1`,
		jobID, step, description)
	if err != nil {
		return fmt.Errorf("update progress for job %d: %w", jobID, err)
	}
	return nil
}

// IncrementAttempt bumps the attempt counter.
func (s *Store) IncrementAttempt(ctx context.Context, jobID int64) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE capture_jobs SET attempt = attempt + 1 WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("increment attempt for job %d: %w", jobID, err)
	}
	return nil
}

// MarkJobCompleted finalizes a job as completed.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID int64, note string) error {
	return s.finishJob(ctx, jobID, capture.JobStatusCompleted, note)
}

// MarkJobFailed finalizes a job as failed.
func (s *Store) MarkJobFailed(ctx context.Context, jobID int64, reason string) error {
	return s.finishJob(ctx, jobID, capture.JobStatusFailed, reason)
}

func (s *Store) finishJob(ctx context.Context, jobID int64, status capture.JobStatus, note string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE capture_jobs
SET status = $2, step_description = COALESCE(NULLIF($3, ''), step_description), capture_end = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		jobID, string(status), note)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d is already terminal", jobID)
	}
	return nil
}

// CreateCaptures inserts placeholder capture rows.
func (s *Store) CreateCaptures(ctx context.Context, captures []capture.Capture) error {
	for _, c := range captures {
		if _, err := s.pool.Exec(ctx, `
INSERT INTO captures (link_guid, role, status, url, record_type, content_type, is_user_upload)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.LinkGUID, string(c.Role), string(c.Status), c.URL, c.RecordType, c.ContentType, c.IsUserUpload); err != nil {
			return fmt.Errorf("insert %s capture for %s: %w", c.Role, c.LinkGUID, err)
		}
	}
	return nil
}

// CapturesForLink returns all capture rows for a link.
func (s *Store) CapturesForLink(ctx context.Context, guid string) ([]capture.Capture, error) {
	rows, err := s.pool.Query(ctx, `
SELECT link_guid, role, status, url, record_type, content_type, is_user_upload
FROM captures WHERE link_guid = $1 ORDER BY id`, guid)
	if err != nil {
		return nil, fmt.Errorf("query captures for %s: %w", guid, err)
	}
	defer rows.Close()

	var out []capture.Capture
	for rows.Next() {
		var c capture.Capture
		if err := rows.Scan(&c.LinkGUID, &c.Role, &c.Status, &c.URL, &c.RecordType, &c.ContentType, &c.IsUserUpload); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return out, nil
}

// UpdateCapture sets status/content type for the link's capture with a role.
func (s *Store) UpdateCapture(ctx context.Context, guid string, role capture.CaptureRole, status capture.CaptureStatus, contentType string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE captures
SET status = $3, content_type = COALESCE(NULLIF($4, ''), content_type)
WHERE link_guid = $1 AND role = $2`,
		guid, string(role), string(status), contentType)
	if err != nil {
		return fmt.Errorf("update %s capture for %s: %w", role, guid, err)
	}
	return nil
}

// FailPendingCaptures flips every pending capture of the link to failed.
func (s *Store) FailPendingCaptures(ctx context.Context, guid string) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE captures SET status = 'failed' WHERE link_guid = $1 AND status = 'pending'`, guid); err != nil {
		return fmt.Errorf("fail pending captures for %s: %w", guid, err)
	}
	return nil
}

// SetLinkPrivate flips the privacy flag with a reason code.
func (s *Store) SetLinkPrivate(ctx context.Context, guid string, reason capture.PrivateReason) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE links SET is_private = TRUE, private_reason = $2 WHERE guid = $1`, guid, string(reason)); err != nil {
		return fmt.Errorf("set link %s private: %w", guid, err)
	}
	return nil
}

// SaveLinkMetadata persists captured title/description.
func (s *Store) SaveLinkMetadata(ctx context.Context, guid, title, description string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE links
SET submitted_title = COALESCE(NULLIF($2, ''), submitted_title),
    submitted_description = COALESCE(NULLIF($3, ''), submitted_description)
WHERE guid = $1`, guid, title, description)
	if err != nil {
		return fmt.Errorf("save metadata for %s: %w", guid, err)
	}
	return nil
}

// SetArchiveSize records the final container size.
func (s *Store) SetArchiveSize(ctx context.Context, guid string, size int64) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE links SET archive_size = $2 WHERE guid = $1`, guid, size); err != nil {
		return fmt.Errorf("set archive size for %s: %w", guid, err)
	}
	return nil
}

// AddLinkTag appends a diagnostic tag, once.
func (s *Store) AddLinkTag(ctx context.Context, guid, tag string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO link_tags (link_guid, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`, guid, tag)
	if err != nil {
		return fmt.Errorf("tag link %s: %w", guid, err)
	}
	return nil
}

// StaleJobs returns in_progress jobs started before the cutoff. The caller
// computes the cutoff from its own clock; capture_start is stamped by the
// database at reservation time.
func (s *Store) StaleJobs(ctx context.Context, cutoff time.Time) ([]capture.CaptureJob, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, link_guid, user_id, human, status, attempt, step_count, step_description, capture_start, capture_end, created_at
FROM capture_jobs
WHERE status = 'in_progress' AND capture_start < $1
ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()

	var out []capture.CaptureJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*capture.CaptureJob, error) {
	var j capture.CaptureJob
	err := row.Scan(&j.ID, &j.LinkGUID, &j.UserID, &j.Human, &j.Status, &j.Attempt,
		&j.StepCount, &j.StepDescription, &j.CaptureStart, &j.CaptureEnd, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
