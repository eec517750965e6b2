package memory

import (
	"context"
	"io"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/catalog-sync/internal/domain/blob"
)

var _ blob.Store = (*BlobStore)(nil)

// ErrBlobNotFound is returned by DownloadURL for paths never uploaded.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore keeps uploads in memory and serves them under BaseURL.
type BlobStore struct {
	baseURL string

	mu      sync.Mutex
	blobs   map[string][]byte
	failure error
}

// NewBlobStore creates an empty store whose download URLs start with
// baseURL.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{baseURL: baseURL, blobs: map[string][]byte{}}
}

// FailUploads makes subsequent uploads fail with err; nil restores them.
func (b *BlobStore) FailUploads(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// Upload implements blob.Store.
func (b *BlobStore) Upload(_ context.Context, path string, r io.Reader, size int64, progress blob.ProgressFunc) error {
	b.mu.Lock()
	failure := b.failure
	b.mu.Unlock()
	if failure != nil {
		return failure
	}

	data, err := io.ReadAll(blob.NewCountingReader(r, size, progress))
	if err != nil {
		return errors.Wrap(err, "read blob")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[path] = data
	return nil
}

// DownloadURL implements blob.Store.
func (b *BlobStore) DownloadURL(_ context.Context, path string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blobs[path]; !ok {
		return "", ErrBlobNotFound
	}
	return b.baseURL + "/" + path, nil
}

// Get returns the content stored at path.
func (b *BlobStore) Get(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	return data, ok
}
