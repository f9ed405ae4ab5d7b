// Package browser drives headless Chrome through the recording proxy.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Frame traversal bounds. Deep or hostile frame nests are cut off rather
// than followed.
const (
	frameDepthLimit = 3
	frameCountLimit = 20
)

// Config controls the headless browser session.
type Config struct {
	ProxyAddr   string
	UserAgent   string
	Width       int
	Height      int
	NavTimeout  time.Duration
	EvalTimeout time.Duration
}

// Chrome implements capture.Browser on top of chromedp. One Chrome per
// capture job; the browser dials every request through the recording proxy
// and ignores its MITM certificate.
type Chrome struct {
	cfg             Config
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
}

// New launches a browser session. The caller owns Close.
func New(cfg Config, logger *zap.Logger) (*Chrome, error) {
	if cfg.Width <= 0 {
		cfg.Width = 1024
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = 2 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.ProxyServer(cfg.ProxyAddr),
		chromedp.WindowSize(cfg.Width, cfg.Height),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chrome{
		cfg:             cfg,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
	}, nil
}

// Navigate starts loading the URL and returns immediately. The channel
// receives the navigation result once the browser fires the load event, so
// callers can join it with their own timeout.
func (c *Chrome) Navigate(url string) <-chan error {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(c.browserCtx, c.cfg.NavTimeout)
		defer cancel()
		err := chromedp.Run(ctx,
			network.Enable(),
			emulation.SetUserAgentOverride(c.cfg.UserAgent),
			chromedp.Navigate(url),
		)
		if err != nil {
			done <- fmt.Errorf("navigate %s: %w", url, err)
			return
		}
		done <- nil
	}()
	return done
}

// Alive reports whether the browser process is still responsive.
func (c *Chrome) Alive() bool {
	if c.browserCtx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(c.browserCtx, c.cfg.EvalTimeout)
	defer cancel()
	var title string
	return chromedp.Run(ctx, chromedp.Title(&title)) == nil
}

// CurrentURL returns the main frame's current location.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()
	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// DOM serializes the live document, so client-side rendered markup is
// included rather than the bytes that came over the wire.
func (c *Chrome) DOM(ctx context.Context) (string, error) {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()
	var html string
	err := chromedp.Run(runCtx,
		chromedp.Evaluate("document.documentElement.outerHTML", &html))
	if err != nil {
		return "", fmt.Errorf("serialize dom: %w", err)
	}
	return html, nil
}

// FrameDOMs walks the frame tree breadth-first, bounded by depth and count,
// skipping frames that did not come from an HTTP origin. A frame whose
// content cannot be fetched (navigated away mid-walk) ends its branch.
func (c *Chrome) FrameDOMs(ctx context.Context) ([]capture.FrameDOM, error) {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()

	var out []capture.FrameDOM
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		tree, err := page.GetFrameTree().Do(actionCtx)
		if err != nil {
			return fmt.Errorf("frame tree: %w", err)
		}
		count := 0
		c.walkFrames(actionCtx, tree, 0, &count, &out)
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chrome) walkFrames(ctx context.Context, node *page.FrameTree, depth int, count *int, out *[]capture.FrameDOM) {
	if node == nil || depth > frameDepthLimit || *count >= frameCountLimit {
		return
	}
	if depth > 0 && node.Frame != nil {
		url := node.Frame.URL
		if !frameEligible(url) {
			return
		}
		body, err := page.GetResourceContent(node.Frame.ID, url).Do(ctx)
		if err != nil {
			// frame replaced under us; abandon this branch
			c.logger.Debug("frame content unavailable",
				zap.String("url", url), zap.Error(err))
			return
		}
		*out = append(*out, capture.FrameDOM{URL: url, HTML: string(body)})
		*count++
	}
	for _, child := range node.ChildFrames {
		c.walkFrames(ctx, child, depth+1, count, out)
	}
}

// frameEligible filters out about:blank, data:, javascript: and other
// non-HTTP frames.
func frameEligible(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

const scrollScript = `
(function() {
  var height = Math.max(document.body ? document.body.scrollHeight : 0,
                        document.documentElement.scrollHeight);
  var step = window.innerHeight;
  var pos = 0;
  var timer = setInterval(function() {
    pos += step;
    window.scrollTo(0, pos);
    if (pos >= height) {
      clearInterval(timer);
      window.scrollTo(0, 0);
    }
  }, 50);
  return height;
})()`

// Scroll pages through the document to trigger lazy loading, then waits a
// capped second for the animation to finish.
func (c *Chrome) Scroll(ctx context.Context) error {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()
	var height int64
	if err := chromedp.Run(runCtx, chromedp.Evaluate(scrollScript, &height)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	select {
	case <-time.After(scrollWait(height, int64(c.cfg.Height))):
	case <-ctx.Done():
	}
	return nil
}

// scrollWait estimates how long the scroll animation needs, capped at one
// second so a huge page cannot stall the pipeline.
func scrollWait(pageHeight, viewportHeight int64) time.Duration {
	if viewportHeight <= 0 {
		return time.Second
	}
	wait := time.Duration(pageHeight/viewportHeight+1) * 60 * time.Millisecond
	if wait > time.Second {
		wait = time.Second
	}
	return wait
}

const pageSizeScript = `
(function() {
  var el = document.querySelector('html') || document.querySelector('frameset');
  if (!el) { return [0, 0]; }
  return [el.scrollWidth || el.clientWidth || 0,
          el.scrollHeight || el.clientHeight || 0];
})()`

// PageSize queries the rendered page dimensions.
func (c *Chrome) PageSize(ctx context.Context) (int64, int64, error) {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()
	var dims []int64
	if err := chromedp.Run(runCtx, chromedp.Evaluate(pageSizeScript, &dims)); err != nil {
		return 0, 0, fmt.Errorf("page size: %w", err)
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("page size: unexpected result %v", dims)
	}
	return dims[0], dims[1], nil
}

// Screenshot grows the viewport to the full page (never past the pixel
// budget) and captures it. Pages over the budget yield nil bytes.
func (c *Chrome) Screenshot(ctx context.Context, maxPixels int64) ([]byte, error) {
	width, height, err := c.PageSize(ctx)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("screenshot: page has no size")
	}
	if width*height > maxPixels {
		c.logger.Info("page too large for screenshot",
			zap.Int64("width", width), zap.Int64("height", height))
		return nil, nil
	}

	runCtx, cancel := context.WithTimeout(c.browserCtx, c.cfg.NavTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var shot []byte
	err = chromedp.Run(runCtx,
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			return emulation.SetDeviceMetricsOverride(width, height, 1, false).Do(actionCtx)
		}),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return shot, nil
}

// RunScript evaluates arbitrary JS, discarding the result.
func (c *Chrome) RunScript(ctx context.Context, script string) error {
	runCtx, cancel := c.evalContext(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("run script: %w", err)
	}
	return nil
}

// Close tears down the browser and allocator.
func (c *Chrome) Close(ctx context.Context) error {
	c.browserCancel()
	c.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

func (c *Chrome) evalContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.EvalTimeout
	if deadline, ok := parent.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	return context.WithTimeout(c.browserCtx, timeout)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
