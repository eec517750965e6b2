package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/catalog-sync/internal/domain/blob"
)

func TestBlobStore(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore("https://blobs.test")

	_, err := b.DownloadURL(ctx, "product_images/u1/p1")
	require.ErrorIs(t, err, ErrBlobNotFound)

	var last blob.Progress
	data := []byte("png-bytes")
	require.NoError(t, b.Upload(ctx, "product_images/u1/p1", bytes.NewReader(data), int64(len(data)), func(p blob.Progress) {
		last = p
	}))
	assert.Equal(t, blob.Progress{Sent: int64(len(data)), Total: int64(len(data))}, last)

	url, err := b.DownloadURL(ctx, "product_images/u1/p1")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/product_images/u1/p1", url)

	got, ok := b.Get("product_images/u1/p1")
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestBlobStore_FailUploads(t *testing.T) {
	b := NewBlobStore("https://blobs.test")
	boom := errors.New("network down")
	b.FailUploads(boom)
	err := b.Upload(context.Background(), "p", bytes.NewReader([]byte("x")), 1, nil)
	require.ErrorIs(t, err, boom)
	_, ok := b.Get("p")
	assert.False(t, ok)
}
