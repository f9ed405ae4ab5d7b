// Package capture defines core types shared across the capture pipeline.
package capture

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a capture job.
// Transitions are forward-only: pending -> in_progress -> completed|failed.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CaptureStatus is the state of a single Capture artifact.
type CaptureStatus string

// Capture status values.
const (
	CaptureStatusPending CaptureStatus = "pending"
	CaptureStatusSuccess CaptureStatus = "success"
	CaptureStatusFailed  CaptureStatus = "failed"
)

// CaptureRole distinguishes the artifacts belonging to a Link.
type CaptureRole string

// Capture roles. A Link has exactly one primary, at most one screenshot,
// and zero or more favicons.
const (
	RolePrimary    CaptureRole = "primary"
	RoleScreenshot CaptureRole = "screenshot"
	RoleFavicon    CaptureRole = "favicon"
)

// PrivateReason records why a Link was flipped private during capture.
type PrivateReason string

// Private reason codes, kept distinct for later audit.
const (
	ReasonPolicy  PrivateReason = "policy"
	ReasonFailure PrivateReason = "failure"
)

// Link is the archived URL. Created by the CRUD layer; the capture core
// only mutates privacy, metadata, size and diagnostic tags.
type Link struct {
	GUID                 string        `json:"guid"`
	SubmittedURL         string        `json:"submitted_url"`
	SubmittedTitle       string        `json:"submitted_title"`
	SubmittedDescription string        `json:"submitted_description"`
	DefaultTitle         string        `json:"default_title"`
	IsPrivate            bool          `json:"is_private"`
	PrivateReason        PrivateReason `json:"private_reason,omitempty"`
	CreatedBy            int64         `json:"created_by"`
	CreatedAt            time.Time     `json:"created_at"`
	UserDeleted          bool          `json:"user_deleted"`
	ArchiveSize          int64         `json:"archive_size"`
	Tags                 []string      `json:"tags,omitempty"`
}

// CaptureJob is one scheduled attempt to archive a Link.
type CaptureJob struct {
	ID              int64      `json:"id"`
	LinkGUID        string     `json:"link_guid"`
	UserID          int64      `json:"user_id"`
	Human           bool       `json:"human"`
	Status          JobStatus  `json:"status"`
	Attempt         int        `json:"attempt"`
	StepCount       float64    `json:"step_count"`
	StepDescription string     `json:"step_description"`
	CaptureStart    *time.Time `json:"capture_start,omitempty"`
	CaptureEnd      *time.Time `json:"capture_end,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PendingJob is the scheduler's view of an unreserved job.
type PendingJob struct {
	ID        int64
	UserID    int64
	Human     bool
	CreatedAt time.Time
}

// Capture is one artifact of a Link.
type Capture struct {
	LinkGUID     string        `json:"link_guid"`
	Role         CaptureRole   `json:"role"`
	Status       CaptureStatus `json:"status"`
	URL          string        `json:"url"`
	RecordType   string        `json:"record_type"`
	ContentType  string        `json:"content_type"`
	IsUserUpload bool          `json:"is_user_upload"`
}

// RecordedResource is one proxied response as recorded by the proxy
// adapter, in capture order. Held in memory only; the archive writer turns
// these into container records.
type RecordedResource struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Truncated   bool
	RecordedAt  time.Time
}

// FrameDOM pairs a frame's URL with its serialized DOM.
type FrameDOM struct {
	URL  string
	HTML string
}

// PageMetadata carries title/description/meta-tag observations from the
// content analyzer. First non-empty values win across passes.
type PageMetadata struct {
	Title    string
	MetaTags map[string]string
}
