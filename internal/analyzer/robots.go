// Package analyzer inspects captured pages and responses: privacy
// directives, page metadata, favicon and media URL extraction.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsChecker decides whether a page asked not to be archived via
// robots.txt. The archive is not a crawler, so the file is honored only
// when the agent is mentioned by name.
type RobotsChecker struct {
	agent  string
	client *http.Client
	logger *zap.Logger
}

// NewRobotsChecker builds a checker with its own bounded HTTP client.
func NewRobotsChecker(agent string, timeout time.Duration, logger *zap.Logger) *RobotsChecker {
	return &RobotsChecker{
		agent:  agent,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Disallowed fetches the site's robots.txt and reports whether it names the
// agent and disallows the target URL. Unreachable or generic robots.txt
// never blocks a capture.
func (r *RobotsChecker) Disallowed(ctx context.Context, targetURL string) bool {
	parsed, err := url.Parse(targetURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", r.agent)
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("robots.txt unreachable", zap.String("url", robotsURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}

	return r.DisallowedByContent(body, targetURL)
}

// DisallowedByContent applies the agent-mention rule to raw robots.txt
// bytes.
func (r *RobotsChecker) DisallowedByContent(content []byte, targetURL string) bool {
	if !strings.Contains(strings.ToLower(string(content)), strings.ToLower(r.agent)) {
		return false
	}
	data, err := robotstxt.FromBytes(content)
	if err != nil {
		return false
	}
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	group := data.FindGroup(r.agent)
	return group != nil && !group.Test(path)
}
