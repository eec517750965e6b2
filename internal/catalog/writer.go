package catalog

import (
	"bytes"
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/domain/product"
)

// SaveRequest is a create-or-edit of a product, optionally with a new image.
type SaveRequest struct {
	// ProductID is empty when a new product is created.
	ProductID string
	Draft     product.Draft
	Image     *blob.Upload
	Progress  blob.ProgressFunc
}

// Writes below do not touch the published catalog. The live subscription
// re-delivers the collection once the backend has applied a write, so the
// catalog only ever shows backend-confirmed state.

// AddProduct creates a product under identityID and returns its key.
func (l *Loader) AddProduct(ctx context.Context, identityID string, d product.Draft) (string, error) {
	ctx, span := l.startSpan(ctx, "catalog.AddProduct", identityID)
	defer span.End()

	if err := validateDraft(d); err != nil {
		return "", err
	}
	key := l.store.GenerateKey(product.CollectionPath(identityID))
	if err := l.put(ctx, "add", identityID, key, d, false); err != nil {
		recordError(span, err)
		return "", err
	}
	return key, nil
}

// UpdateProduct replaces the editable fields of an existing product.
func (l *Loader) UpdateProduct(ctx context.Context, identityID, productID string, d product.Draft) error {
	ctx, span := l.startSpan(ctx, "catalog.UpdateProduct", identityID)
	defer span.End()

	if productID == "" {
		return apperr.Missing("productId")
	}
	if err := validateDraft(d); err != nil {
		return err
	}
	if err := l.put(ctx, "update", identityID, productID, d, true); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

// DeleteProduct removes a product.
func (l *Loader) DeleteProduct(ctx context.Context, identityID, productID string) error {
	ctx, span := l.startSpan(ctx, "catalog.DeleteProduct", identityID)
	defer span.End()

	if productID == "" {
		return apperr.Missing("productId")
	}
	path := product.ItemPath(identityID, productID)
	err := l.store.Remove(ctx, path)
	l.metrics.write(ctx, "delete", err)
	if err != nil {
		recordError(span, err)
		return &apperr.PersistenceError{Code: apperr.WriteFailed, Path: path, Err: err}
	}
	return nil
}

// SaveProduct creates or edits a product. With an image the steps are:
// upload the blob to the product's image path, resolve its download URL,
// then write the record with that URL. A failed upload stops before the
// record is written. A failed record write after a successful upload leaves
// the blob orphaned; no compensating delete is issued.
func (l *Loader) SaveProduct(ctx context.Context, identityID string, req SaveRequest) (string, error) {
	ctx, span := l.startSpan(ctx, "catalog.SaveProduct", identityID)
	defer span.End()

	if err := validateDraft(req.Draft); err != nil {
		return "", err
	}

	key, existing := req.ProductID, req.ProductID != ""
	if !existing {
		key = l.store.GenerateKey(product.CollectionPath(identityID))
	}
	itemPath := product.ItemPath(identityID, key)

	d := req.Draft
	var imagePath string
	if req.Image != nil && len(req.Image.Data) > 0 {
		imagePath = product.ImagePath(identityID, key)
		url, err := l.uploadImage(ctx, imagePath, req.Image, req.Progress)
		if err != nil {
			recordError(span, err)
			return "", &apperr.PersistenceError{Code: apperr.WriteFailed, Path: itemPath, Err: err}
		}
		d.ImageURL = url
	}

	op := "add"
	if existing {
		op = "update"
	}
	if err := l.put(ctx, op, identityID, key, d, existing); err != nil {
		if imagePath != "" {
			l.lg.Warn("Product image left without record",
				zap.String("blob", imagePath),
				zap.String("product", itemPath),
				zap.Error(err),
			)
		}
		recordError(span, err)
		return "", err
	}
	return key, nil
}

func (l *Loader) uploadImage(ctx context.Context, path string, img *blob.Upload, progress blob.ProgressFunc) (string, error) {
	r := bytes.NewReader(img.Data)
	if err := l.blobs.Upload(ctx, path, r, int64(len(img.Data)), progress); err != nil {
		return "", &apperr.UploadError{Code: apperr.TransferFailed, Path: path, Err: err}
	}
	url, err := l.blobs.DownloadURL(ctx, path)
	if err != nil {
		return "", &apperr.UploadError{Code: apperr.TransferFailed, Path: path, Err: err}
	}
	return url, nil
}

// put writes the record of d under key. Updates merge into the stored
// record; creates replace it.
func (l *Loader) put(ctx context.Context, op, identityID, key string, d product.Draft, merge bool) error {
	path := product.ItemPath(identityID, key)
	rec := product.Encode(d.Record(identityID, l.now()))

	var err error
	if merge {
		err = l.store.Update(ctx, path, rec)
	} else {
		err = l.store.Write(ctx, path, rec)
	}
	l.metrics.write(ctx, op, err)
	if err != nil {
		return &apperr.PersistenceError{Code: apperr.WriteFailed, Path: path, Err: err}
	}
	return nil
}

func (l *Loader) startSpan(ctx context.Context, name, identityID string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("identity.id", identityID)))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func validateDraft(d product.Draft) error {
	if strings.TrimSpace(d.Name) == "" {
		return apperr.Missing("name")
	}
	return nil
}
