// Package localfs stores blobs on the local filesystem. It backs
// development deployments without a Cloudinary account; the gateway serves
// the directory under the configured base URL.
package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/catalog-sync/internal/domain/blob"
)

var _ blob.Store = (*BlobStore)(nil)

// BlobStore writes blobs below a root directory.
type BlobStore struct {
	root    string
	baseURL string
}

// NewBlobStore creates root if needed.
func NewBlobStore(root, baseURL string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &BlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory blobs are written to.
func (s *BlobStore) Root() string { return s.root }

func (s *BlobStore) file(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", errors.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Upload implements blob.Store. Content is written to a temporary file and
// renamed into place so readers never see a partial blob.
func (s *BlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, progress blob.ProgressFunc) error {
	name, err := s.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, blob.NewCountingReader(contextReader{ctx, r}, size, progress)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("storing %q: %w", path, err)
	}
	return nil
}

// DownloadURL implements blob.Store.
func (s *BlobStore) DownloadURL(_ context.Context, path string) (string, error) {
	name, err := s.file(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("blob %q not found: %w", path, err)
		}
		return "", fmt.Errorf("stat %q: %w", path, err)
	}
	return s.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
