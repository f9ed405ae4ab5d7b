package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
	storemem "github.com/linkvault/linkvault/internal/storage/memory"
)

func decompressAll(t *testing.T, data []byte) string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	decoded, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return string(decoded)
}

func TestContainerRecordGrammar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewContainer(&buf, "AAAA-BBBB", created)
	require.NoError(t, err)

	require.NoError(t, c.WriteResponse(capture.RecordedResource{
		URL:         "https://example.com/",
		StatusCode:  200,
		ContentType: "text/html",
		Headers:     http.Header{"Content-Type": {"text/html"}},
		Body:        []byte("<html>hi</html>"),
		RecordedAt:  created,
	}))

	text := decompressAll(t, buf.Bytes())
	require.Contains(t, text, "WARC/1.0")
	require.Contains(t, text, "WARC-Type: warcinfo")
	require.Contains(t, text, "WARC-Type: response")
	require.Contains(t, text, "WARC-Target-URI: https://example.com/")
	require.Contains(t, text, "WARC-Date: 2026-08-01T12:00:00Z")
	require.Contains(t, text, "HTTP/1.1 200 OK")
	require.Contains(t, text, "<html>hi</html>")
	require.Equal(t, int64(buf.Len()), c.Size())
}

func TestContainerMarksTruncatedRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c, err := NewContainer(&buf, "AAAA-BBBB", time.Now())
	require.NoError(t, err)
	require.NoError(t, c.WriteResponse(capture.RecordedResource{
		URL:        "https://example.com/big",
		StatusCode: 200,
		Body:       []byte("cut"),
		Truncated:  true,
		RecordedAt: time.Now(),
	}))

	require.Contains(t, decompressAll(t, buf.Bytes()), "WARC-Truncated: length")
}

func TestSaveOrdersScreenshotFirst(t *testing.T) {
	t.Parallel()

	blobs := storemem.New()
	w := NewWriter(blobs, zap.NewNop())
	link := &capture.Link{
		GUID:      "AAAA-BBBB",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	records := []capture.RecordedResource{
		{URL: "https://example.com/", StatusCode: 200, Body: []byte("page"), RecordedAt: link.CreatedAt},
		{URL: "https://example.com/a.png", StatusCode: 200, Body: []byte("img"), RecordedAt: link.CreatedAt},
	}

	res, err := w.Save(context.Background(), link, records, []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "2026/08/01/AAAA-BBBB.warc.gz", res.Path)
	require.True(t, res.WroteSnapshot)
	require.True(t, res.WroteTraffic)
	require.Positive(t, res.Size)

	data, ok := blobs.Object(res.Path)
	require.True(t, ok)
	require.Equal(t, res.Size, int64(len(data)))

	text := decompressAll(t, data)
	shotAt := strings.Index(text, "WARC-Type: resource")
	firstResponse := strings.Index(text, "WARC-Type: response")
	require.Greater(t, firstResponse, shotAt)
	require.Greater(t, shotAt, 0)
	// traffic preserved in capture order
	require.Less(t, strings.Index(text, "https://example.com/"), strings.Index(text, "https://example.com/a.png"))
}

func TestSaveWithoutScreenshot(t *testing.T) {
	t.Parallel()

	blobs := storemem.New()
	w := NewWriter(blobs, zap.NewNop())
	link := &capture.Link{GUID: "CCCC-DDDD", CreatedAt: time.Now().UTC()}

	res, err := w.Save(context.Background(), link,
		[]capture.RecordedResource{{URL: "https://example.com/", StatusCode: 200}}, nil)
	require.NoError(t, err)
	require.False(t, res.WroteSnapshot)
	require.True(t, res.WroteTraffic)
}
