package catalog

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/storage/memory"
)

func attachMemory(t *testing.T) (*Loader, *memory.RealtimeStore, *memory.BlobStore) {
	t.Helper()
	store := memory.NewRealtimeStore()
	blobs := memory.NewBlobStore("https://blobs.test")
	l := newTestLoader(t, store, blobs)
	_, err := l.Attach(context.Background(), "u1")
	require.NoError(t, err)
	return l, store, blobs
}

func TestLoader_AddProductRoundTrip(t *testing.T) {
	l, _, _ := attachMemory(t)
	price := decimal.RequireFromString("9.99")

	id, err := l.AddProduct(context.Background(), "u1", product.Draft{Name: "Mug", Description: "Blue", Price: &price})
	require.NoError(t, err)

	cur := l.Current()
	require.Len(t, cur.Products, 1)
	p := cur.Products[0]
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, "Blue", p.Description)
	assert.True(t, price.Equal(*p.Price))
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "2024-03-01T12:30:00.000Z", p.Timestamp)
}

func TestLoader_SaveProductWithImage(t *testing.T) {
	l, store, blobs := attachMemory(t)
	ctx := context.Background()

	var progress []blob.Progress
	id, err := l.SaveProduct(ctx, "u1", SaveRequest{
		Draft: product.Draft{Name: "Lamp"},
		Image: &blob.Upload{Name: "lamp.png", ContentType: "image/png", Data: []byte("png")},
		Progress: func(p blob.Progress) {
			progress = append(progress, p)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(3), progress[len(progress)-1].Sent)

	_, ok := blobs.Get(product.ImagePath("u1", id))
	require.True(t, ok)

	cur := l.Current()
	require.Len(t, cur.Products, 1)
	assert.Equal(t, "https://blobs.test/"+product.ImagePath("u1", id), cur.Products[0].ImageURL)

	// Editing without a new image keeps the URL carried by the draft.
	_, err = l.SaveProduct(ctx, "u1", SaveRequest{
		ProductID: id,
		Draft:     product.Draft{Name: "Desk lamp", ImageURL: cur.Products[0].ImageURL},
	})
	require.NoError(t, err)
	cur = l.Current()
	require.Len(t, cur.Products, 1)
	assert.Equal(t, "Desk lamp", cur.Products[0].Name)
	assert.Equal(t, "https://blobs.test/"+product.ImagePath("u1", id), cur.Products[0].ImageURL)

	assert.Equal(t, 1, store.Subscriptions(product.CollectionPath("u1")))
}

func TestLoader_UploadFailureSkipsWrite(t *testing.T) {
	l, store, blobs := attachMemory(t)
	boom := errors.New("connection reset")
	blobs.FailUploads(boom)

	id, err := l.SaveProduct(context.Background(), "u1", SaveRequest{
		Draft: product.Draft{Name: "Lamp"},
		Image: &blob.Upload{Data: []byte("png")},
	})
	require.Error(t, err)
	assert.Empty(t, id)

	var pe *apperr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, apperr.WriteFailed, pe.Code)
	var ue *apperr.UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, apperr.TransferFailed, ue.Code)
	require.ErrorIs(t, err, boom)

	assert.Empty(t, l.Current().Products)
	assert.Equal(t, 1, store.Subscriptions(product.CollectionPath("u1")))
}

func TestLoader_WriteFailureLeavesCatalog(t *testing.T) {
	l, store, _ := attachMemory(t)
	ctx := context.Background()
	existing, err := l.AddProduct(ctx, "u1", product.Draft{Name: "Keep"})
	require.NoError(t, err)
	before := l.Current()

	store.FailWrites(errors.New("unavailable"))
	tests := []struct {
		name string
		call func() error
	}{
		{"add", func() error {
			_, err := l.AddProduct(ctx, "u1", product.Draft{Name: "New"})
			return err
		}},
		{"update", func() error {
			return l.UpdateProduct(ctx, "u1", existing, product.Draft{Name: "Changed"})
		}},
		{"delete", func() error {
			return l.DeleteProduct(ctx, "u1", existing)
		}},
		{"save with image", func() error {
			_, err := l.SaveProduct(ctx, "u1", SaveRequest{
				Draft: product.Draft{Name: "Img"},
				Image: &blob.Upload{Data: []byte("x")},
			})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var pe *apperr.PersistenceError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, apperr.WriteFailed, pe.Code)
			assert.Equal(t, before.Seq, l.Current().Seq)
			assert.Equal(t, []string{"Keep"}, names(l.Current().Products))
		})
	}
}

func TestLoader_Validation(t *testing.T) {
	l, _, _ := attachMemory(t)
	ctx := context.Background()

	_, err := l.AddProduct(ctx, "u1", product.Draft{Name: "  "})
	assert.True(t, apperr.IsValidation(err, apperr.MissingRequiredField))

	_, err = l.SaveProduct(ctx, "u1", SaveRequest{Draft: product.Draft{}})
	assert.True(t, apperr.IsValidation(err, apperr.MissingRequiredField))

	err = l.UpdateProduct(ctx, "u1", "", product.Draft{Name: "x"})
	assert.True(t, apperr.IsValidation(err, apperr.MissingRequiredField))

	err = l.DeleteProduct(ctx, "u1", "")
	assert.True(t, apperr.IsValidation(err, apperr.MissingRequiredField))

	assert.Empty(t, l.Current().Products)
}

func TestLoader_DeleteProduct(t *testing.T) {
	l, _, _ := attachMemory(t)
	ctx := context.Background()
	a, err := l.AddProduct(ctx, "u1", product.Draft{Name: "A"})
	require.NoError(t, err)
	_, err = l.AddProduct(ctx, "u1", product.Draft{Name: "B"})
	require.NoError(t, err)

	require.NoError(t, l.DeleteProduct(ctx, "u1", a))
	assert.Equal(t, []string{"B"}, names(l.Current().Products))
}
