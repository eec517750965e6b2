// Package cloudinary stores product images on Cloudinary.
package cloudinary

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/blob"
)

var _ blob.Store = (*BlobStore)(nil)

// Config holds the Cloudinary account credentials.
type Config struct {
	CloudName string `yaml:"cloud_name" env:"CLOUD_NAME"`
	APIKey    string `yaml:"api_key" env:"API_KEY"`
	APISecret string `yaml:"api_secret" env:"API_SECRET"`
}

// Enabled reports whether credentials are present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// BlobStore uploads blobs as Cloudinary assets whose public ID is the blob
// path.
type BlobStore struct {
	cld *cloudinary.Cloudinary
	lg  *zap.Logger
}

// NewBlobStore creates a client for the account in cfg.
func NewBlobStore(cfg Config, lg *zap.Logger) (*BlobStore, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("initializing cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true
	return &BlobStore{cld: cld, lg: lg}, nil
}

// Upload implements blob.Store.
func (s *BlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, progress blob.ProgressFunc) error {
	cr := blob.NewCountingReader(r, size, progress)
	res, err := s.cld.Upload.Upload(ctx, cr, uploader.UploadParams{
		PublicID:     path,
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
		ResourceType: "image",
	})
	if err != nil {
		return fmt.Errorf("uploading %q: %w", path, err)
	}
	if res.Error.Message != "" {
		return errors.Errorf("uploading %q: %s", path, res.Error.Message)
	}
	s.lg.Debug("Uploaded blob",
		zap.String("path", path),
		zap.Int64("bytes", cr.Sent()),
		zap.String("version", fmt.Sprint(res.Version)),
	)
	return nil
}

// DownloadURL implements blob.Store. The URL is derived from the public ID
// and stays valid across overwrites.
func (s *BlobStore) DownloadURL(_ context.Context, path string) (string, error) {
	img, err := s.cld.Image(path)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	u, err := img.String()
	if err != nil {
		return "", fmt.Errorf("building url for %q: %w", path, err)
	}
	return u, nil
}
