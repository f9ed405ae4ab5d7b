package proxy

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/linkvault/linkvault/internal/capture"
)

// Tracker is the shared record of everything the proxy has seen for one
// capture. A single mutex guards all state; every method is a short
// critical section so readers between body chunks never stall the capture.
type Tracker struct {
	mu            sync.Mutex
	records       []capture.RecordedResource
	recordedBytes int64
	inFlightBytes int64
	openExchanges int
	limitReached  bool
	stopped       bool
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// OpenExchange registers an in-flight request.
func (t *Tracker) OpenExchange() {
	t.mu.Lock()
	t.openExchanges++
	t.mu.Unlock()
}

// CloseExchange unregisters an in-flight request.
func (t *Tracker) CloseExchange() {
	t.mu.Lock()
	if t.openExchanges > 0 {
		t.openExchanges--
	}
	t.mu.Unlock()
}

// Idle reports whether no exchange is currently in flight.
func (t *Tracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openExchanges == 0
}

// AddInFlight accounts bytes that have been received but not yet committed
// as a record. The size monitor counts them against the budget immediately.
func (t *Tracker) AddInFlight(n int64) {
	t.mu.Lock()
	t.inFlightBytes += n
	t.mu.Unlock()
	capture.RecordedBytes.Add(float64(n))
}

// DropInFlight releases in-flight accounting for an aborted exchange.
func (t *Tracker) DropInFlight(n int64) {
	t.mu.Lock()
	t.inFlightBytes -= n
	if t.inFlightBytes < 0 {
		t.inFlightBytes = 0
	}
	t.mu.Unlock()
}

// Commit appends a completed (possibly truncated) response in capture
// order and moves its bytes from in-flight to recorded.
func (t *Tracker) Commit(res capture.RecordedResource) {
	size := int64(len(res.Body))
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.inFlightBytes -= size
	if t.inFlightBytes < 0 {
		t.inFlightBytes = 0
	}
	t.recordedBytes += size
	t.records = append(t.records, res)
	t.mu.Unlock()
	if res.Truncated {
		capture.TruncatedResponses.Inc()
	}
}

// TotalBytes is recorded plus in-flight bytes; the size monitor compares
// this against the archive budget.
func (t *Tracker) TotalBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordedBytes + t.inFlightBytes
}

// RecordedBytes is the committed byte count. Monotone.
func (t *Tracker) RecordedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordedBytes
}

// Records returns a copy of the committed responses in capture order.
func (t *Tracker) Records() []capture.RecordedResource {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]capture.RecordedResource, len(t.records))
	copy(out, t.records)
	return out
}

// RecordFor returns the first committed response for the URL, if any.
func (t *Tracker) RecordFor(url string) (capture.RecordedResource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		if r.URL == url {
			return r, true
		}
	}
	return capture.RecordedResource{}, false
}

// HasResponse reports whether anything at all has been committed.
func (t *Tracker) HasResponse() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records) > 0
}

// ContentResponse returns the first committed response that carries page
// content: redirects, partial-content replies and favicon fetches do not
// count. The initial fetch wait loops on this.
func (t *Tracker) ContentResponse() (capture.RecordedResource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.records {
		if r.StatusCode >= 300 && r.StatusCode < 400 {
			continue
		}
		if r.StatusCode == http.StatusPartialContent {
			continue
		}
		if strings.HasSuffix(strings.ToLower(urlPath(r.URL)), "/favicon.ico") {
			continue
		}
		return r, true
	}
	return capture.RecordedResource{}, false
}

// SetLimitReached latches the size limit flag.
func (t *Tracker) SetLimitReached() {
	t.mu.Lock()
	t.limitReached = true
	t.mu.Unlock()
}

// LimitReached reports whether the archive budget has been exceeded.
func (t *Tracker) LimitReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitReached
}

// Stop latches the cooperative stop signal for all readers and fetch units.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Stopped reports whether teardown has begun.
func (t *Tracker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// ShouldAbort is checked between body chunks: readers truncate and close as
// soon as either flag is set.
func (t *Tracker) ShouldAbort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped || t.limitReached
}

func urlPath(raw string) string {
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.Index(raw, "/"); i >= 0 {
		return raw[i:]
	}
	return "/"
}
