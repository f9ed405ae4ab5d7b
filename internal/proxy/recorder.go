package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Config parameterizes the recording proxy.
type Config struct {
	PortMin    int
	PortMax    int
	ChunkBytes int
}

// Recorder is a loopback MITM proxy that copies every response body flowing
// to the browser (and the background fetch units) into the Tracker.
type Recorder struct {
	tracker  *Tracker
	server   *http.Server
	listener net.Listener
	port     int
	logger   *zap.Logger
}

type exchangeState struct {
	blocked bool
}

// Start probes the configured port range, binds the first free loopback
// port and begins serving. The caller owns Shutdown.
func Start(cfg Config, tracker *Tracker, allow *Allowlist, logger *zap.Logger) (*Recorder, error) {
	listener, port, err := listenInRange(cfg.PortMin, cfg.PortMax)
	if err != nil {
		return nil, err
	}

	p := goproxy.NewProxyHttpServer()
	p.Logger = zap.NewStdLog(logger.Named("goproxy"))
	p.OnRequest().HandleConnect(goproxy.AlwaysMitm)

	p.OnRequest().DoFunc(func(req *http.Request, pctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		state := &exchangeState{}
		pctx.UserData = state
		if !allow.Permits(req.URL.Hostname()) {
			state.blocked = true
			capture.BlockedRequests.Inc()
			logger.Warn("blocked proxied destination", zap.String("host", req.URL.Hostname()))
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText,
				http.StatusForbidden, "destination not permitted")
		}
		tracker.OpenExchange()
		return req, nil
	})

	p.OnResponse().DoFunc(func(resp *http.Response, pctx *goproxy.ProxyCtx) *http.Response {
		state, _ := pctx.UserData.(*exchangeState)
		if state != nil && state.blocked {
			return resp
		}
		if resp == nil || resp.Body == nil {
			tracker.CloseExchange()
			return resp
		}
		meta := capture.RecordedResource{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Headers:     resp.Header.Clone(),
		}
		if pctx.Req != nil && pctx.Req.URL != nil {
			meta.URL = pctx.Req.URL.String()
		}
		resp.Body = newRecordingBody(tracker, resp.Body, meta, cfg.ChunkBytes)
		return resp
	})

	r := &Recorder{
		tracker:  tracker,
		listener: listener,
		port:     port,
		logger:   logger,
	}
	r.server = &http.Server{Handler: recoverHandler(p, tracker, logger)}
	go func() {
		if err := r.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("recording proxy stopped", zap.Error(err))
		}
	}()
	return r, nil
}

// Addr is the proxy's loopback address for browser/client configuration.
func (r *Recorder) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", r.port)
}

// Port is the bound port.
func (r *Recorder) Port() int {
	return r.port
}

// Shutdown stops the server, bounded by the context.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

func listenInRange(min, max int) (net.Listener, int, error) {
	for port := min; port <= max; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free proxy port in %d-%d", min, max)
}

// recoverHandler swallows per-request panics so a single broken exchange
// never takes down the proxy; the exchange is simply dropped.
func recoverHandler(next http.Handler, tracker *Tracker, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("proxy exchange panicked",
					zap.Any("panic", rec), zap.String("url", req.URL.String()))
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// recordingBody copies a response body into the tracker as the client reads
// it, one chunk at a time, and aborts at the next chunk boundary once the
// stop or limit flag is set.
type recordingBody struct {
	tracker *Tracker
	src     io.ReadCloser
	meta    capture.RecordedResource
	buf     bytes.Buffer
	chunk   int
	done    bool
}

func newRecordingBody(tracker *Tracker, src io.ReadCloser, meta capture.RecordedResource, chunk int) *recordingBody {
	if chunk <= 0 {
		chunk = 8192
	}
	return &recordingBody{tracker: tracker, src: src, meta: meta, chunk: chunk}
}

func (b *recordingBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}
	if b.tracker.ShouldAbort() {
		b.finish(true)
		return 0, io.EOF
	}
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	n, err := b.src.Read(p)
	if n > 0 {
		b.buf.Write(p[:n])
		b.tracker.AddInFlight(int64(n))
	}
	if err == io.EOF {
		b.finish(false)
		return n, io.EOF
	}
	if err != nil {
		b.abort()
		return n, err
	}
	return n, nil
}

func (b *recordingBody) Close() error {
	if !b.done {
		b.finish(b.tracker.ShouldAbort())
	}
	return b.src.Close()
}

func (b *recordingBody) finish(truncated bool) {
	b.done = true
	meta := b.meta
	meta.Body = append([]byte(nil), b.buf.Bytes()...)
	meta.Truncated = truncated
	meta.RecordedAt = time.Now().UTC()
	b.tracker.Commit(meta)
	b.tracker.CloseExchange()
}

// abort drops the exchange entirely on a transport error.
func (b *recordingBody) abort() {
	b.done = true
	b.tracker.DropInFlight(int64(b.buf.Len()))
	b.tracker.CloseExchange()
}
