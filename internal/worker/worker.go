// Package worker runs the capture lifecycle: one reserved job at a time,
// from navigation through archive assembly, then immediately asks the
// scheduler for the next one.
package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/analyzer"
	"github.com/linkvault/linkvault/internal/archive"
	"github.com/linkvault/linkvault/internal/capture"
	"github.com/linkvault/linkvault/internal/hooks"
	"github.com/linkvault/linkvault/internal/progress"
	"github.com/linkvault/linkvault/internal/proxy"
)

// Diagnostic tags attached to links when a capture degrades.
const (
	TagBrowserCrashed      = "browser-crashed"
	TagTimeoutFailure      = "timeout-failure"
	TagMetaRetrievalFailed = "meta-tag-retrieval-failure"
)

const defaultContentType = "text/html; charset=utf-8"

// TrafficRecorder is the proxy lifecycle as the worker sees it.
type TrafficRecorder interface {
	Addr() string
	Shutdown(ctx context.Context) error
}

// BackgroundFetcher runs side downloads through the proxy.
type BackgroundFetcher interface {
	Fetch(ctx context.Context, url string)
	Join(grace time.Duration) bool
}

// RobotsPolicy answers whether a target URL asked not to be archived.
type RobotsPolicy interface {
	Disallowed(ctx context.Context, targetURL string) bool
}

// JobSource hands out reserved jobs.
type JobSource interface {
	Next(ctx context.Context) (*capture.CaptureJob, error)
}

// StaleReaper sweeps wedged jobs before each scheduling cycle.
type StaleReaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// Session bundles the per-capture moving parts. A fresh one is built for
// every job and torn down on every exit path.
type Session struct {
	Tracker  *proxy.Tracker
	Recorder TrafficRecorder
	Browser  capture.Browser
	Fetches  BackgroundFetcher
}

// SessionFactory builds a Session wired to a capture-specific user agent.
type SessionFactory func(ctx context.Context, userAgent string) (*Session, error)

// Config bounds the stages of one capture.
type Config struct {
	MaxArchiveBytes     int64
	ResourceLoadTimeout time.Duration
	OnloadTimeout       time.Duration
	AfterLoadTimeout    time.Duration
	ShutdownGrace       time.Duration
	MonitorInterval     time.Duration
	IdlePoll            time.Duration
	MaxScreenshotPixels int64
	AgentName           string
	GenericNoarchive    bool
	PrivateOnFailure    bool
	PreservationTopic   string
}

// Worker drives the capture pipeline.
type Worker struct {
	cfg        Config
	store      capture.JobStore
	archive    *archive.Writer
	publisher  capture.Publisher
	jobs       JobSource
	reaper     StaleReaper
	robots     RobotsPolicy
	hub        *progress.Hub
	clock      capture.Clock
	newSession SessionFactory
	agentFor   func(host string) string
	logger     *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, store capture.JobStore, archiveWriter *archive.Writer, publisher capture.Publisher,
	jobs JobSource, reaper StaleReaper, robots RobotsPolicy, hub *progress.Hub,
	clock capture.Clock, newSession SessionFactory, agentFor func(string) string, logger *zap.Logger) *Worker {
	if agentFor == nil {
		agentFor = func(string) string { return cfg.AgentName }
	}
	return &Worker{
		cfg:        cfg,
		store:      store,
		archive:    archiveWriter,
		publisher:  publisher,
		jobs:       jobs,
		reaper:     reaper,
		robots:     robots,
		hub:        hub,
		clock:      clock,
		newSession: newSession,
		agentFor:   agentFor,
		logger:     logger,
	}
}

// Run drains the queue until the context is cancelled: sweep stale jobs,
// reserve the next fair job, capture it, repeat. With nothing eligible it
// idles for a poll interval.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.reaper.ReapStale(ctx); err != nil {
			w.logger.Warn("stale job sweep failed", zap.Error(err))
		}
		job, err := w.jobs.Next(ctx)
		if err != nil {
			w.logger.Error("job selection failed", zap.Error(err))
			job = nil
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.IdlePoll):
			}
			continue
		}
		w.Capture(ctx, job)
	}
}

// outcome accumulates everything the finalization pass needs, whatever
// path the capture body took.
type outcome struct {
	link        *capture.Link
	session     *Session
	monitorStop context.CancelFunc
	wait        sync.WaitGroup

	haveContent bool
	haveHTML    bool
	contentType string
	screenshot  []byte
	metadata    capture.PageMetadata
	favicons    []string
	step        float64
	completed   bool
}

// Capture runs one job end to end. It never panics outward and always
// leaves the job terminal with no pending captures.
func (w *Worker) Capture(ctx context.Context, job *capture.CaptureJob) {
	o := &outcome{}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				w.logger.Error("capture panicked",
					zap.Int64("job_id", job.ID), zap.Any("panic", rec))
			}
		}()
		w.runCapture(ctx, job, o)
	}()
	w.finish(ctx, job, o)
}

func (w *Worker) runCapture(ctx context.Context, job *capture.CaptureJob, o *outcome) {
	start := w.clock.Now()

	link, err := w.store.GetLink(ctx, job.LinkGUID)
	if err != nil {
		w.logger.Error("link lookup failed", zap.String("link", job.LinkGUID), zap.Error(err))
		return
	}
	o.link = link

	w.progress(job, o, 0, "starting capture")

	// the user may have deleted the link, or a previous attempt may have
	// already resolved the primary capture
	if link.UserDeleted || !w.primaryPending(ctx, link.GUID) {
		if err := w.store.MarkJobCompleted(ctx, job.ID, "deleted"); err != nil {
			w.logger.Warn("could not complete deleted job", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		o.completed = true
		return
	}
	if err := w.store.IncrementAttempt(ctx, job.ID); err != nil {
		w.logger.Warn("could not bump attempt", zap.Int64("job_id", job.ID), zap.Error(err))
	}

	// a caller-supplied title must survive the capture
	if link.SubmittedTitle != "" && link.SubmittedTitle != link.DefaultTitle {
		o.metadata.Title = link.SubmittedTitle
	}

	userAgent := w.agentFor(hostOf(link.SubmittedURL))
	session, err := w.newSession(ctx, userAgent)
	if err != nil {
		w.logger.Error("session setup failed", zap.String("link", link.GUID), zap.Error(err))
		return
	}
	o.session = session

	monitorCtx, monitorStop := context.WithCancel(context.Background())
	o.monitorStop = monitorStop
	monitor := proxy.NewMonitor(session.Tracker, w.cfg.MaxArchiveBytes, w.cfg.MonitorInterval, w.logger)
	go monitor.Run(monitorCtx)

	w.progress(job, o, 1, "requesting target url")
	navDone := session.Browser.Navigate(link.SubmittedURL)

	content, ok := w.waitForContent(ctx, job, o, start)
	if !ok {
		// nothing substantive arrived in time: fatal, unlike every later wait
		return
	}
	o.haveContent = true
	contentURL := content.URL
	o.contentType = strings.ToLower(content.ContentType)
	if o.contentType == "" {
		o.contentType = defaultContentType
	}
	o.haveHTML = strings.HasPrefix(o.contentType, "text/html")
	robotsDirectives := analyzer.JoinXRobotsDirectives(content.Headers)

	// robots.txt check runs alongside the rest of the capture
	o.wait.Add(1)
	go func() {
		defer o.wait.Done()
		if w.robots.Disallowed(ctx, link.SubmittedURL) {
			w.logger.Info("robots.txt disallows agent", zap.String("link", link.GUID))
			if err := w.store.SetLinkPrivate(ctx, link.GUID, capture.ReasonPolicy); err != nil {
				w.logger.Warn("could not set link private", zap.Error(err))
			}
		}
	}()

	w.progress(job, o, 1, "checking x-robots-tag directives")
	if analyzer.XRobotsNoarchive(robotsDirectives, w.cfg.AgentName, w.cfg.GenericNoarchive) {
		w.logger.Info("x-robots-tag noarchive", zap.String("link", link.GUID))
		if err := w.store.SetLinkPrivate(ctx, link.GUID, capture.ReasonPolicy); err != nil {
			w.logger.Warn("could not set link private", zap.Error(err))
		}
	}

	if o.haveHTML {
		w.htmlCapture(ctx, job, o, contentURL, navDone, start)
	}

	w.settleWait(ctx, job, o)

	if o.haveHTML && o.session.Browser.Alive() {
		w.progress(job, o, 1, "taking screenshot")
		shot, err := o.session.Browser.Screenshot(ctx, w.cfg.MaxScreenshotPixels)
		if err != nil {
			w.logger.Warn("screenshot failed", zap.String("link", link.GUID), zap.Error(err))
		}
		o.screenshot = shot
	}
}

// htmlCapture is the HTML-only middle of the pipeline: DOM passes,
// favicons, onload join, post-load hook, scroll, media collection.
func (w *Worker) htmlCapture(ctx context.Context, job *capture.CaptureJob, o *outcome, contentURL string, navDone <-chan error, start time.Time) {
	link := o.link
	browser := o.session.Browser

	// grab DOM and metadata before onload, which can take forever or
	// crash the browser
	if page := w.parseDOM(ctx, browser, link.GUID, "pre-onload"); page != nil {
		analyzer.MergeMetadata(&o.metadata, page)
		o.favicons = page.FaviconURLs(contentURL)
		for _, u := range o.favicons {
			o.session.Fetches.Fetch(ctx, u)
		}
	}

	// join onload with whatever budget remains, then proceed regardless
	remaining := w.cfg.OnloadTimeout - w.clock.Now().Sub(start)
	if remaining < 0 {
		remaining = 0
	}
	select {
	case err := <-navDone:
		if err != nil {
			w.logger.Warn("navigation error", zap.String("link", link.GUID), zap.Error(err))
		}
	case <-time.After(remaining):
		w.logger.Warn("onload timed out", zap.String("link", link.GUID))
	case <-ctx.Done():
		return
	}

	currentURL, err := browser.CurrentURL(ctx)
	if err != nil || currentURL == "" {
		currentURL = contentURL
	}
	if script := hooks.PostLoadScript(currentURL); script != "" {
		w.logger.Info("running post-load hook", zap.String("url", currentURL))
		if err := browser.RunScript(ctx, script); err != nil {
			w.logger.Warn("post-load hook failed", zap.Error(err))
		}
	}

	// fresh DOM pass now that the page settled
	if page := w.parseDOM(ctx, browser, link.GUID, "post-onload"); page != nil {
		analyzer.MergeMetadata(&o.metadata, page)
	}

	w.progress(job, o, 0.5, "checking for scroll-loaded assets")
	if err := browser.Scroll(ctx); err != nil {
		w.logger.Debug("scroll failed", zap.Error(err))
	}

	w.progress(job, o, 1, "fetching media")
	w.fetchMedia(ctx, o, contentURL)
}

func (w *Worker) fetchMedia(ctx context.Context, o *outcome, contentURL string) {
	browser := o.session.Browser
	type framed struct {
		base string
		html string
	}
	var trees []framed

	if dom, err := browser.DOM(ctx); err == nil {
		trees = append(trees, framed{base: contentURL, html: dom})
	}
	frames, err := browser.FrameDOMs(ctx)
	if err != nil {
		w.logger.Debug("frame traversal failed", zap.Error(err))
	}
	for _, f := range frames {
		trees = append(trees, framed{base: f.URL, html: f.HTML})
	}

	seen := make(map[string]struct{})
	for _, t := range trees {
		page, err := analyzer.Parse(t.html)
		if err != nil {
			continue
		}
		for _, u := range page.MediaURLs(t.base) {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			o.session.Fetches.Fetch(ctx, u)
		}
	}
}

// settleWait gives in-flight requests a bounded chance to finish; when the
// budget or the size limit trips, the stop signal cuts them off at the next
// chunk boundary.
func (w *Worker) settleWait(ctx context.Context, job *capture.CaptureJob, o *outcome) {
	w.progress(job, o, 1, "waiting for post-load requests")
	tracker := o.session.Tracker
	deadline := w.clock.Now().Add(w.cfg.AfterLoadTimeout)
	for {
		if tracker.LimitReached() {
			w.logger.Info("size limit reached; not waiting for pending requests")
			tracker.Stop()
			return
		}
		if tracker.Idle() {
			return
		}
		if !o.session.Browser.Alive() {
			return
		}
		if w.clock.Now().After(deadline) {
			w.logger.Info("gave up waiting for post-load requests")
			tracker.Stop()
			return
		}
		select {
		case <-ctx.Done():
			tracker.Stop()
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// waitForContent blocks until the proxy records a substantive response.
// This is the one wait with no proceed-anyway fallback: with no content
// there is nothing to archive.
func (w *Worker) waitForContent(ctx context.Context, job *capture.CaptureJob, o *outcome, start time.Time) (capture.RecordedResource, bool) {
	tracker := o.session.Tracker
	for {
		if res, ok := tracker.ContentResponse(); ok {
			return res, true
		}
		if !o.session.Browser.Alive() {
			w.logger.Warn("browser died before first response", zap.String("link", o.link.GUID))
			return capture.RecordedResource{}, false
		}
		waited := w.clock.Now().Sub(start)
		if waited > w.cfg.ResourceLoadTimeout {
			w.logger.Warn("no substantive response within resource load timeout",
				zap.String("link", o.link.GUID))
			return capture.RecordedResource{}, false
		}
		w.emitStep(job, o, o.step+waited.Seconds()/w.cfg.ResourceLoadTimeout.Seconds(), "requesting target url")
		select {
		case <-ctx.Done():
			return capture.RecordedResource{}, false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// finish runs on every exit path: teardown within the grace period, then
// metadata, archive assembly, capture statuses and the terminal job state.
func (w *Worker) finish(ctx context.Context, job *capture.CaptureJob, o *outcome) {
	// store writes must survive a cancelled capture context
	dbCtx := context.WithoutCancel(ctx)

	if o.session != nil {
		o.session.Tracker.Stop()
		o.session.Fetches.Join(w.cfg.ShutdownGrace)

		// the robots goroutine gets the same grace as the fetch units; a
		// stalled robots.txt fetch must not hold up finalization
		waitDone := make(chan struct{})
		go func() {
			o.wait.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(w.cfg.ShutdownGrace):
			w.logger.Warn("robots check still running at teardown")
		}

		graceCtx, cancel := context.WithTimeout(dbCtx, w.cfg.ShutdownGrace)
		if o.session.Browser != nil {
			if !o.session.Browser.Alive() && o.link != nil {
				if err := w.store.AddLinkTag(dbCtx, o.link.GUID, TagBrowserCrashed); err != nil {
					w.logger.Warn("could not tag link", zap.Error(err))
				}
			}
			if err := o.session.Browser.Close(graceCtx); err != nil {
				w.logger.Warn("browser close failed", zap.Error(err))
			}
		}
		if err := o.session.Recorder.Shutdown(graceCtx); err != nil {
			w.logger.Warn("proxy shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if o.monitorStop != nil {
		o.monitorStop()
	}
	if o.completed {
		return
	}
	if o.link == nil {
		w.failJob(dbCtx, job, "")
		return
	}
	if ctx.Err() != nil {
		if err := w.store.AddLinkTag(dbCtx, o.link.GUID, TagTimeoutFailure); err != nil {
			w.logger.Warn("could not tag link", zap.Error(err))
		}
	}

	if o.haveHTML {
		w.persistMetadata(dbCtx, o)
	}

	saved := false
	if o.haveContent {
		w.progress(job, o, 1, "saving web archive file")
		saved = w.saveArchive(dbCtx, job, o)
	}

	if err := w.store.FailPendingCaptures(dbCtx, o.link.GUID); err != nil {
		w.logger.Warn("could not fail pending captures", zap.Error(err))
	}
	if saved {
		if err := w.store.MarkJobCompleted(dbCtx, job.ID, "completed"); err != nil {
			w.logger.Warn("could not complete job", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		capture.CapturesCompleted.Inc()
		w.publishPreservation(dbCtx, o.link)
		w.logger.Info("capture succeeded", zap.String("link", o.link.GUID))
	} else {
		w.failJob(dbCtx, job, o.link.GUID)
	}
}

func (w *Worker) failJob(ctx context.Context, job *capture.CaptureJob, guid string) {
	current, err := w.store.GetJob(ctx, job.ID)
	if err == nil && current.Status.Terminal() {
		return
	}
	if err := w.store.MarkJobFailed(ctx, job.ID, "failed during capture"); err != nil {
		w.logger.Warn("could not fail job", zap.Int64("job_id", job.ID), zap.Error(err))
		return
	}
	capture.CapturesFailed.Inc()
	w.logger.Warn("capture failed", zap.Int64("job_id", job.ID), zap.String("link", guid))
}

func (w *Worker) persistMetadata(ctx context.Context, o *outcome) {
	link := o.link
	if o.metadata.MetaTags == nil {
		// the DOM was never successfully parsed
		if w.cfg.PrivateOnFailure {
			if err := w.store.SetLinkPrivate(ctx, link.GUID, capture.ReasonFailure); err != nil {
				w.logger.Warn("could not set link private", zap.Error(err))
			}
		}
		if err := w.store.AddLinkTag(ctx, link.GUID, TagMetaRetrievalFailed); err != nil {
			w.logger.Warn("could not tag link", zap.Error(err))
		}
		return
	}
	if analyzer.MetaNoarchive(o.metadata.MetaTags, w.cfg.AgentName, w.cfg.GenericNoarchive) {
		w.logger.Info("meta noarchive", zap.String("link", link.GUID))
		if err := w.store.SetLinkPrivate(ctx, link.GUID, capture.ReasonPolicy); err != nil {
			w.logger.Warn("could not set link private", zap.Error(err))
		}
	}
	title := analyzer.TitleForLink(o.metadata.Title)
	description := analyzer.Description(o.metadata.MetaTags)
	if err := w.store.SaveLinkMetadata(ctx, link.GUID, title, description); err != nil {
		w.logger.Warn("could not save metadata", zap.Error(err))
	}
}

func (w *Worker) saveArchive(ctx context.Context, job *capture.CaptureJob, o *outcome) bool {
	records := o.session.Tracker.Records()
	result, err := w.archive.Save(ctx, o.link, records, o.screenshot)
	if err != nil {
		w.logger.Error("archive assembly failed", zap.String("link", o.link.GUID), zap.Error(err))
		return false
	}
	if err := w.store.SetArchiveSize(ctx, o.link.GUID, result.Size); err != nil {
		w.logger.Warn("could not persist archive size", zap.Error(err))
	}
	if err := w.store.UpdateCapture(ctx, o.link.GUID, capture.RolePrimary, capture.CaptureStatusSuccess, o.contentType); err != nil {
		w.logger.Warn("could not update primary capture", zap.Error(err))
	}
	if result.WroteSnapshot {
		if err := w.store.UpdateCapture(ctx, o.link.GUID, capture.RoleScreenshot, capture.CaptureStatusSuccess, "image/png"); err != nil {
			w.logger.Warn("could not update screenshot capture", zap.Error(err))
		}
	}
	w.saveFavicon(ctx, o)
	return true
}

// saveFavicon records the first fetched favicon candidate with an
// acceptable MIME type, in preference order.
func (w *Worker) saveFavicon(ctx context.Context, o *outcome) {
	for _, u := range o.favicons {
		rec, ok := o.session.Tracker.RecordFor(u)
		if !ok || rec.StatusCode != 200 || !analyzer.ValidFaviconMIME(rec.ContentType) {
			continue
		}
		err := w.store.CreateCaptures(ctx, []capture.Capture{{
			LinkGUID:    o.link.GUID,
			Role:        capture.RoleFavicon,
			Status:      capture.CaptureStatusSuccess,
			URL:         u,
			RecordType:  "response",
			ContentType: strings.ToLower(strings.Split(rec.ContentType, ";")[0]),
		}})
		if err != nil {
			w.logger.Warn("could not save favicon capture", zap.Error(err))
		}
		return
	}
}

func (w *Worker) publishPreservation(ctx context.Context, link *capture.Link) {
	if w.publisher == nil || w.cfg.PreservationTopic == "" {
		return
	}
	payload := map[string]any{
		"guid":         link.GUID,
		"archive_path": archive.ContainerPath(link.GUID, link.CreatedAt),
	}
	// fire and forget: preservation upload failures never fail the capture
	if _, err := w.publisher.Publish(ctx, w.cfg.PreservationTopic, payload); err != nil {
		w.logger.Warn("preservation publish failed", zap.String("link", link.GUID), zap.Error(err))
	}
}

func (w *Worker) primaryPending(ctx context.Context, guid string) bool {
	captures, err := w.store.CapturesForLink(ctx, guid)
	if err != nil {
		w.logger.Warn("could not load captures", zap.String("link", guid), zap.Error(err))
		return false
	}
	for _, c := range captures {
		if c.Role == capture.RolePrimary {
			return c.Status == capture.CaptureStatusPending
		}
	}
	return false
}

func (w *Worker) parseDOM(ctx context.Context, browser capture.Browser, guid, pass string) *analyzer.Page {
	dom, err := browser.DOM(ctx)
	if err != nil {
		w.logger.Warn("dom serialization failed",
			zap.String("link", guid), zap.String("pass", pass), zap.Error(err))
		return nil
	}
	page, err := analyzer.Parse(dom)
	if err != nil {
		w.logger.Warn("dom parse failed",
			zap.String("link", guid), zap.String("pass", pass), zap.Error(err))
		return nil
	}
	return page
}

// progress advances the job's step counter and emits it to the hub.
func (w *Worker) progress(job *capture.CaptureJob, o *outcome, inc float64, description string) {
	o.step += inc
	w.emitStep(job, o, o.step, description)
}

func (w *Worker) emitStep(job *capture.CaptureJob, o *outcome, step float64, description string) {
	guid := job.LinkGUID
	if o.link != nil {
		guid = o.link.GUID
	}
	w.hub.Emit(progress.Event{
		JobID:       job.ID,
		LinkGUID:    guid,
		Step:        step,
		Description: description,
		TS:          w.clock.Now(),
	})
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
