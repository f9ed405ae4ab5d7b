package progress

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Sink receives batched progress events.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, batch []Event) error
}

// StoreSink persists the latest step per job through the job store. Older
// events in the batch for the same job are superseded before writing.
type StoreSink struct {
	store capture.JobStore
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(store capture.JobStore) *StoreSink {
	return &StoreSink{store: store}
}

// Name identifies the sink in logs.
func (s *StoreSink) Name() string { return "store" }

// WriteBatch writes the last event per job.
func (s *StoreSink) WriteBatch(ctx context.Context, batch []Event) error {
	latest := make(map[int64]Event, len(batch))
	for _, evt := range batch {
		if prev, ok := latest[evt.JobID]; !ok || evt.Step >= prev.Step {
			latest[evt.JobID] = evt
		}
	}
	var firstErr error
	for _, evt := range latest {
		if err := s.store.UpdateJobProgress(ctx, evt.JobID, evt.Step, evt.Description); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("update job %d progress: %w", evt.JobID, err)
		}
	}
	return firstErr
}

// LogSink writes step transitions to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name identifies the sink in logs.
func (s *LogSink) Name() string { return "log" }

// WriteBatch logs each step transition.
func (s *LogSink) WriteBatch(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.logger.Info("capture step",
			zap.Int64("job_id", evt.JobID),
			zap.String("link", evt.LinkGUID),
			zap.Float64("step", evt.Step),
			zap.String("description", evt.Description))
	}
	return nil
}

var progressSteps = promauto.NewCounter(prometheus.CounterOpts{
	Name: "linkvault_progress_steps_total",
	Help: "Capture step transitions observed by the progress hub.",
})

// PromSink counts step transitions.
type PromSink struct{}

// NewPromSink constructs a PromSink.
func NewPromSink() *PromSink { return &PromSink{} }

// Name identifies the sink in logs.
func (s *PromSink) Name() string { return "prometheus" }

// WriteBatch increments the step counter per event.
func (s *PromSink) WriteBatch(_ context.Context, batch []Event) error {
	progressSteps.Add(float64(len(batch)))
	return nil
}
