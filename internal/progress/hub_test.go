package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
	"github.com/linkvault/linkvault/internal/store/memory"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) WriteBatch(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Event, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *captureSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestHubDeliversBatches(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond, Logger: zap.NewNop()}, sink)
	defer hub.Close()

	now := time.Now()
	for i := 1; i <= 3; i++ {
		hub.Emit(Event{JobID: int64(i), Step: float64(i), Description: "step", TS: now})
	}

	require.Eventually(t, func() bool {
		return len(sink.events()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnClose(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour, Logger: zap.NewNop()}, sink)

	hub.Emit(Event{JobID: 1, Step: 1, Description: "requesting page", TS: time.Now()})
	hub.Close()

	require.Len(t, sink.events(), 1)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 5 * time.Millisecond, Logger: zap.NewNop()}, sink)
	defer hub.Close()

	hub.Emit(Event{JobID: 0, TS: time.Now()})
	hub.Emit(Event{JobID: 1})
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.events())
}

func TestStoreSinkWritesLatestStep(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateLink(ctx, capture.Link{GUID: "L1", CreatedBy: 1}))
	id, err := s.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)

	sink := NewStoreSink(s)
	now := time.Now()
	err = sink.WriteBatch(ctx, []Event{
		{JobID: id, Step: 1, Description: "requesting page", TS: now},
		{JobID: id, Step: 2.5, Description: "fetching robots.txt", TS: now},
	})
	require.NoError(t, err)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2.5, job.StepCount)
	require.Equal(t, "fetching robots.txt", job.StepDescription)
}
