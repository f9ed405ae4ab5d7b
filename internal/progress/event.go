// Package progress batches capture step updates and fans them out to
// sinks: the job store, the log, and prometheus.
package progress

import (
	"errors"
	"time"
)

// Event is one step transition of a capture job.
type Event struct {
	JobID       int64
	LinkGUID    string
	Step        float64
	Description string
	TS          time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == 0 {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Step < 0 {
		return errors.New("step must be >= 0")
	}
	return nil
}
