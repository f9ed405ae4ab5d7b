package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

const maxConcurrentFetches = 8

// FetchGroup runs background downloads (favicons, media) through the
// recording proxy so their bytes land in the tracker like browser traffic.
// Each fetch is its own goroutine; Join blocks until all have finished or
// the grace period expires.
type FetchGroup struct {
	client  *http.Client
	tracker *Tracker
	agent   string
	chunk   int
	logger  *zap.Logger
	wg      sync.WaitGroup
	sem     chan struct{}
}

// NewFetchGroup builds a group whose HTTP client dials through the proxy at
// proxyAddr and trusts its MITM certificate.
func NewFetchGroup(proxyAddr string, tracker *Tracker, userAgent string, chunk int, timeout time.Duration, logger *zap.Logger) *FetchGroup {
	proxyURL := &url.URL{Scheme: "http", Host: proxyAddr}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return &FetchGroup{
		client:  client,
		tracker: tracker,
		agent:   userAgent,
		chunk:   chunk,
		logger:  logger,
		sem:     make(chan struct{}, maxConcurrentFetches),
	}
}

// Fetch starts a background download of rawURL. Errors are logged and
// dropped; a failed side fetch never fails the capture.
func (g *FetchGroup) Fetch(ctx context.Context, rawURL string) {
	if g.tracker.ShouldAbort() {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.sem <- struct{}{}
		defer func() { <-g.sem }()
		if err := g.fetch(ctx, rawURL); err != nil {
			g.logger.Debug("background fetch failed",
				zap.String("url", rawURL), zap.Error(err))
		}
	}()
}

func (g *FetchGroup) fetch(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if g.agent != "" {
		req.Header.Set("User-Agent", g.agent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	// drain cooperatively; the proxy records the bytes as they pass
	buf := make([]byte, g.chunk)
	for {
		if g.tracker.ShouldAbort() {
			return nil
		}
		_, err := resp.Body.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}
}

// Join waits for all in-flight fetches, bounded by grace. Returns false if
// the deadline passed with fetches still running.
func (g *FetchGroup) Join(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		g.logger.Warn("background fetches still running at deadline")
		return false
	}
}

// RecordFor exposes the tracker lookup for callers that need the fetched
// content (favicon validation).
func (g *FetchGroup) RecordFor(rawURL string) (capture.RecordedResource, bool) {
	return g.tracker.RecordFor(rawURL)
}
