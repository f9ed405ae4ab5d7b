package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/capture"
)

// Result reports what ended up in the container.
type Result struct {
	Path          string
	URI           string
	Size          int64
	WroteTraffic  bool
	WroteSnapshot bool
}

// Writer turns a capture's recorded traffic and screenshot into one stored
// WARC container per link.
type Writer struct {
	blobs  capture.BlobStore
	logger *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(blobs capture.BlobStore, logger *zap.Logger) *Writer {
	return &Writer{blobs: blobs, logger: logger}
}

// ContainerPath is where a link's container lives, derived from its
// creation date.
func ContainerPath(guid string, created time.Time) string {
	return fmt.Sprintf("%s/%s.warc.gz", created.UTC().Format("2006/01/02"), guid)
}

// ScreenshotURI is the stable target URI of the screenshot resource record.
func ScreenshotURI(guid string) string {
	return fmt.Sprintf("file:///%s/cap.png", guid)
}

// Save assembles the container (screenshot resource record first, then
// recorded traffic in capture order) and uploads it. Returns the stored
// size.
func (w *Writer) Save(ctx context.Context, link *capture.Link, records []capture.RecordedResource, screenshot []byte) (Result, error) {
	var buf bytes.Buffer
	container, err := NewContainer(&buf, link.GUID, link.CreatedAt)
	if err != nil {
		return Result{}, err
	}

	res := Result{Path: ContainerPath(link.GUID, link.CreatedAt)}
	if len(screenshot) > 0 {
		if err := container.WriteResource(ScreenshotURI(link.GUID), "image/png", screenshot, time.Now().UTC()); err != nil {
			return Result{}, err
		}
		res.WroteSnapshot = true
	}
	for _, record := range records {
		if err := container.WriteResponse(record); err != nil {
			return Result{}, err
		}
		res.WroteTraffic = true
	}

	uri, err := w.blobs.PutObject(ctx, res.Path, "application/gzip", buf.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("store container: %w", err)
	}
	res.URI = uri
	res.Size = container.Size()
	w.logger.Info("stored archive container",
		zap.String("link", link.GUID),
		zap.String("path", res.Path),
		zap.Int64("size", res.Size),
		zap.Int("records", len(records)),
		zap.Bool("screenshot", res.WroteSnapshot))
	return res, nil
}
