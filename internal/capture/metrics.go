package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturesCompleted tracks jobs that reached completed.
	CapturesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_captures_completed_total",
		Help: "The total number of capture jobs completed successfully.",
	})
	// CapturesFailed tracks jobs that reached failed.
	CapturesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_captures_failed_total",
		Help: "The total number of capture jobs that failed.",
	})
	// RecordedBytes tracks bytes recorded through the proxy.
	RecordedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_recorded_bytes_total",
		Help: "The total number of response bytes recorded by the proxy.",
	})
	// TruncatedResponses tracks responses cut short by the size limit or
	// stop signal.
	TruncatedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_truncated_responses_total",
		Help: "The total number of proxied responses truncated mid-stream.",
	})
	// BlockedRequests tracks proxied requests rejected by the IP allow-list.
	BlockedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_blocked_requests_total",
		Help: "The total number of proxied requests rejected by the allow-list.",
	})
	// ReapedJobs tracks jobs failed by the timeout supervisor.
	ReapedJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_reaped_jobs_total",
		Help: "The total number of stuck jobs reaped by the supervisor.",
	})
)
