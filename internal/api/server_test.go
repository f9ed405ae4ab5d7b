package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
	"github.com/linkvault/linkvault/internal/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	s := memory.New()
	return New("127.0.0.1:0", s, zap.NewNop()), s
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestJobProgress(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.CreateLink(ctx, capture.Link{GUID: "L1", CreatedBy: 1}))
	first, err := store.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	second, err := store.CreateJob(ctx, capture.CaptureJob{LinkGUID: "L1", UserID: 1})
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobProgress(ctx, first, 2.5, "fetching media"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/jobs/%d", first), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got jobProgress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, first, got.ID)
	require.Equal(t, "L1", got.LinkGUID)
	require.Equal(t, "pending", got.Status)
	require.Equal(t, 2.5, got.StepCount)
	require.Equal(t, "fetching media", got.StepDescription)
	require.Equal(t, 1, got.QueuePosition)

	// second job sits behind the first
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/jobs/%d", second), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, second, got.ID)
	require.Equal(t, 2, got.QueuePosition)
}

func TestJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobBadID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinkLookup(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.CreateLink(ctx, capture.Link{GUID: "L2", SubmittedURL: "https://example.com/", CreatedBy: 7}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/links/L2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var link capture.Link
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&link))
	require.Equal(t, "https://example.com/", link.SubmittedURL)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/links/NOPE", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "linkvault_")
}

