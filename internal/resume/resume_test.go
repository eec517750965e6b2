package resume

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/catalog"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/storage/memory"
)

type fixedSource struct {
	id *identity.Identity
}

func (f fixedSource) Current() *identity.Identity { return f.id }

type countingAttacher struct {
	calls []string
	err   error
}

func (c *countingAttacher) Attach(_ context.Context, id string) (*catalog.Handle, error) {
	c.calls = append(c.calls, id)
	return nil, c.err
}

func TestController_SignedOutIsNoop(t *testing.T) {
	a := &countingAttacher{}
	c := New(fixedSource{}, a, zap.NewNop())

	h, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Empty(t, a.calls)
}

func TestController_AttachError(t *testing.T) {
	a := &countingAttacher{err: errors.New("offline")}
	c := New(fixedSource{id: &identity.Identity{ID: "u1"}}, a, zap.NewNop())

	_, err := c.Resume(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"u1"}, a.calls)
}

func TestController_ResumeReusesSubscription(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRealtimeStore()
	loader, err := catalog.NewLoader(store, memory.NewBlobStore("https://b"), zap.NewNop())
	require.NoError(t, err)

	first, err := loader.Attach(ctx, "u1")
	require.NoError(t, err)

	c := New(fixedSource{id: &identity.Identity{ID: "u1"}}, loader, zap.NewNop())
	for i := 0; i < 3; i++ {
		h, err := c.Resume(ctx)
		require.NoError(t, err)
		assert.Same(t, first, h)
	}
	assert.Equal(t, 1, store.Subscriptions(product.CollectionPath("u1")))
}

func TestController_ResumeAfterDetach(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRealtimeStore()
	loader, err := catalog.NewLoader(store, memory.NewBlobStore("https://b"), zap.NewNop())
	require.NoError(t, err)

	h, err := loader.Attach(ctx, "u1")
	require.NoError(t, err)
	loader.Detach(h)

	c := New(fixedSource{id: &identity.Identity{ID: "u1"}}, loader, zap.NewNop())
	got, err := c.Resume(ctx)
	require.NoError(t, err)
	assert.NotSame(t, h, got)
	assert.Equal(t, 1, store.Subscriptions(product.CollectionPath("u1")))
}
