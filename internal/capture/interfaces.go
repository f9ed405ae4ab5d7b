package capture

import (
	"context"
	"errors"
	"time"
)

// ErrJobTaken is returned by ReserveJob when another worker won the
// compare-and-set. Callers should move on to a different job.
var ErrJobTaken = errors.New("job already reserved")

// ErrNotFound is returned when a link or job does not exist.
var ErrNotFound = errors.New("not found")

// JobStore persists links, capture jobs and capture artifacts. Reservation
// relies on the store's row locking; it is the only cross-process mutex in
// the system.
type JobStore interface {
	// PendingJobs lists unreserved jobs for fair selection.
	PendingJobs(ctx context.Context) ([]PendingJob, error)
	// ReserveJob atomically flips pending -> in_progress and stamps the
	// start time. Returns ErrJobTaken if a concurrent caller won.
	ReserveJob(ctx context.Context, jobID int64) (*CaptureJob, error)

	GetJob(ctx context.Context, jobID int64) (*CaptureJob, error)
	GetLink(ctx context.Context, guid string) (*Link, error)

	UpdateJobProgress(ctx context.Context, jobID int64, step float64, description string) error
	IncrementAttempt(ctx context.Context, jobID int64) error
	MarkJobCompleted(ctx context.Context, jobID int64, note string) error
	MarkJobFailed(ctx context.Context, jobID int64, reason string) error

	CreateCaptures(ctx context.Context, captures []Capture) error
	CapturesForLink(ctx context.Context, guid string) ([]Capture, error)
	UpdateCapture(ctx context.Context, guid string, role CaptureRole, status CaptureStatus, contentType string) error
	// FailPendingCaptures flips every still-pending capture of the link to
	// failed. Jobs must never become terminal with pending captures left.
	FailPendingCaptures(ctx context.Context, guid string) error

	SetLinkPrivate(ctx context.Context, guid string, reason PrivateReason) error
	SaveLinkMetadata(ctx context.Context, guid, title, description string) error
	SetArchiveSize(ctx context.Context, guid string, size int64) error
	AddLinkTag(ctx context.Context, guid, tag string) error

	// StaleJobs returns in_progress jobs whose start time precedes the
	// cutoff, for the timeout supervisor.
	StaleJobs(ctx context.Context, cutoff time.Time) ([]CaptureJob, error)
}

// BlobStore writes archive containers and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes fire-and-forget events (long-term-preservation uploads)
// to Pub/Sub or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Browser drives a headless browser through the recording proxy. All
// blocking operations take a context and degrade rather than hang.
type Browser interface {
	// Navigate starts loading the URL and returns immediately; the channel
	// receives the navigation error (or nil) once the browser fires onload.
	// Joinable from another goroutine.
	Navigate(url string) <-chan error
	// Alive reports whether the browser process is still responsive.
	Alive() bool
	CurrentURL(ctx context.Context) (string, error)
	// DOM returns the live serialized DOM of the main frame, so
	// client-side-rendered content is included.
	DOM(ctx context.Context) (string, error)
	// FrameDOMs traverses child frames bounded by depth and count limits.
	FrameDOMs(ctx context.Context) ([]FrameDOM, error)
	// Scroll runs the full-page scroll script and waits (capped) for the
	// background scroll animation to finish.
	Scroll(ctx context.Context) error
	// PageSize queries page dimensions via script, with element-size
	// fallbacks if evaluation fails.
	PageSize(ctx context.Context) (width, height int64, err error)
	// Screenshot resizes the viewport to the full page (capped) and
	// captures it. Returns nil bytes when the page exceeds maxPixels.
	Screenshot(ctx context.Context, maxPixels int64) ([]byte, error)
	// RunScript evaluates arbitrary JS; used by post-load hooks.
	RunScript(ctx context.Context, script string) error
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
