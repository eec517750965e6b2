// Package blob defines the contract of the hosted file store used for
// product images.
package blob

import (
	"context"
	"io"
)

// Progress reports how many bytes of an upload have been transferred.
// Total is -1 when the size is unknown.
type Progress struct {
	Sent  int64
	Total int64
}

// ProgressFunc observes upload progress. It may be nil.
type ProgressFunc func(Progress)

// Store uploads blobs and resolves their durable download URLs.
type Store interface {
	// Upload stores the content of r at path, replacing any previous blob.
	Upload(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) error
	// DownloadURL returns a durable URL for the blob at path.
	DownloadURL(ctx context.Context, path string) (string, error)
}

// Upload is a blob attached to a command, such as a product image picked by
// the user.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// CountingReader reports progress while r is read.
type CountingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

// NewCountingReader wraps r. When progress is nil the reader only counts.
func NewCountingReader(r io.Reader, total int64, progress ProgressFunc) *CountingReader {
	return &CountingReader{r: r, total: total, progress: progress}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.progress != nil {
			c.progress(Progress{Sent: c.sent, Total: c.total})
		}
	}
	return n, err
}

// Sent returns the number of bytes read so far.
func (c *CountingReader) Sent() int64 { return c.sent }
