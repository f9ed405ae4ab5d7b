package proxy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor watches the tracker's byte total and latches the limit flag when
// the archive budget is exceeded. Readers notice at their next chunk
// boundary, so overshoot is bounded by one chunk per open exchange.
type Monitor struct {
	tracker  *Tracker
	maxBytes int64
	interval time.Duration
	logger   *zap.Logger
}

// NewMonitor constructs a size monitor.
func NewMonitor(tracker *Tracker, maxBytes int64, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{tracker: tracker, maxBytes: maxBytes, interval: interval, logger: logger}
}

// Run polls until the limit trips or the context is cancelled. Call in its
// own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := m.tracker.TotalBytes()
			if total > m.maxBytes {
				m.tracker.SetLimitReached()
				m.logger.Warn("archive size limit reached",
					zap.Int64("total_bytes", total),
					zap.Int64("max_bytes", m.maxBytes))
				return
			}
		}
	}
}
