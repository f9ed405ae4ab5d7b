// Package archive assembles the per-link WARC container from recorded
// traffic and uploads it through the blob store.
package archive

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/linkvault/linkvault/internal/capture"
)

const warcTimeLayout = "2006-01-02T15:04:05Z"

// Container writes WARC 1.0 records, each individually gzipped, and tracks
// the compressed size as it goes.
type Container struct {
	w     *countingWriter
	guid  string
	wrote bool
}

// NewContainer starts a container for a link and writes its warcinfo
// record.
func NewContainer(w io.Writer, guid string, created time.Time) (*Container, error) {
	c := &Container{w: &countingWriter{w: w}, guid: guid}
	info := fmt.Sprintf("software: linkvault\r\nformat: WARC File Format 1.0\r\nlink-guid: %s\r\n", guid)
	headers := []warcHeader{
		{"WARC-Type", "warcinfo"},
		{"WARC-Record-ID", recordID()},
		{"WARC-Date", created.UTC().Format(warcTimeLayout)},
		{"WARC-Filename", guid + ".warc.gz"},
		{"Content-Type", "application/warc-fields"},
	}
	if err := c.writeRecord(headers, []byte(info)); err != nil {
		return nil, fmt.Errorf("write warcinfo: %w", err)
	}
	return c, nil
}

// WriteResource writes an out-of-band asset (the screenshot) as a WARC
// resource record.
func (c *Container) WriteResource(uri, contentType string, payload []byte, ts time.Time) error {
	headers := []warcHeader{
		{"WARC-Type", "resource"},
		{"WARC-Record-ID", recordID()},
		{"WARC-Date", ts.UTC().Format(warcTimeLayout)},
		{"WARC-Target-URI", uri},
		{"Content-Type", contentType},
	}
	if err := c.writeRecord(headers, payload); err != nil {
		return fmt.Errorf("write resource record %s: %w", uri, err)
	}
	return nil
}

// WriteResponse writes a recorded HTTP exchange as a WARC response record,
// reconstructing the status line and headers in front of the body.
func (c *Container) WriteResponse(res capture.RecordedResource) error {
	block := httpBlock(res)
	headers := []warcHeader{
		{"WARC-Type", "response"},
		{"WARC-Record-ID", recordID()},
		{"WARC-Date", res.RecordedAt.UTC().Format(warcTimeLayout)},
		{"WARC-Target-URI", res.URL},
		{"Content-Type", "application/http; msgtype=response"},
	}
	if res.Truncated {
		headers = append(headers, warcHeader{"WARC-Truncated", "length"})
	}
	if err := c.writeRecord(headers, block); err != nil {
		return fmt.Errorf("write response record %s: %w", res.URL, err)
	}
	return nil
}

// Size is the compressed bytes written so far.
func (c *Container) Size() int64 {
	return c.w.n
}

type warcHeader struct {
	key   string
	value string
}

func (c *Container) writeRecord(headers []warcHeader, block []byte) error {
	gz := gzip.NewWriter(c.w)
	if _, err := fmt.Fprintf(gz, "WARC/1.0\r\n"); err != nil {
		return err
	}
	for _, h := range headers {
		if _, err := fmt.Fprintf(gz, "%s: %s\r\n", h.key, h.value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(gz, "Content-Length: %d\r\n\r\n", len(block)); err != nil {
		return err
	}
	if _, err := gz.Write(block); err != nil {
		return err
	}
	if _, err := io.WriteString(gz, "\r\n\r\n"); err != nil {
		return err
	}
	c.wrote = true
	return gz.Close()
}

func httpBlock(res capture.RecordedResource) []byte {
	status := res.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	out := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for key, values := range res.Headers {
		// the stored body is already decoded and possibly truncated
		if key == "Content-Length" || key == "Transfer-Encoding" || key == "Content-Encoding" {
			continue
		}
		for _, v := range values {
			out += fmt.Sprintf("%s: %s\r\n", key, v)
		}
	}
	out += fmt.Sprintf("Content-Length: %d\r\n\r\n", len(res.Body))
	return append([]byte(out), res.Body...)
}

func recordID() string {
	return fmt.Sprintf("<urn:uuid:%s>", uuid.NewString())
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
