package memory

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/catalog-sync/internal/domain/realtime"
)

type recorder struct {
	snaps []realtime.Snapshot
}

func (r *recorder) listen(s realtime.Snapshot) { r.snaps = append(r.snaps, s) }

func (r *recorder) values() []string {
	out := make([]string, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = string(s.Value)
	}
	return out
}

func TestRealtimeStore_SubscribeDeliversCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	require.NoError(t, s.Write(ctx, "products/u1/a", []byte(`{"name":"A"}`)))

	var rec recorder
	h, err := s.Subscribe(ctx, "/products/u1/", rec.listen)
	require.NoError(t, err)
	assert.Equal(t, "products/u1", h.Path)
	assert.Equal(t, []string{`{"a":{"name":"A"}}`}, rec.values())
	assert.Equal(t, 1, s.Subscriptions("products/u1"))
}

func TestRealtimeStore_SubscribeEmpty(t *testing.T) {
	s := NewRealtimeStore()
	var rec recorder
	_, err := s.Subscribe(context.Background(), "products/nobody", rec.listen)
	require.NoError(t, err)
	require.Len(t, rec.snaps, 1)
	assert.Nil(t, rec.snaps[0].Value)

	_, err = s.Subscribe(context.Background(), "", rec.listen)
	require.Error(t, err)
}

func TestRealtimeStore_MutationsInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	var rec recorder
	_, err := s.Subscribe(ctx, "products/u1", rec.listen)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "products/u1/a", []byte(`{"name":"A"}`)))
	require.NoError(t, s.Write(ctx, "products/u1/b", []byte(`{"name":"B"}`)))
	require.NoError(t, s.Update(ctx, "products/u1/a", []byte(`{"price":3}`)))
	require.NoError(t, s.Remove(ctx, "products/u1/b"))
	require.NoError(t, s.Remove(ctx, "products/u1/a"))

	assert.Equal(t, []string{
		"",
		`{"a":{"name":"A"}}`,
		`{"a":{"name":"A"},"b":{"name":"B"}}`,
		`{"a":{"name":"A","price":3},"b":{"name":"B"}}`,
		`{"a":{"name":"A","price":3}}`,
		"",
	}, rec.values())
}

func TestRealtimeStore_OtherCollectionsNotDelivered(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	var rec recorder
	_, err := s.Subscribe(ctx, "products/u1", rec.listen)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "products/u2/x", []byte(`{"name":"X"}`)))
	assert.Len(t, rec.snaps, 1)
}

func TestRealtimeStore_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	var rec recorder
	h, err := s.Subscribe(ctx, "products/u1", rec.listen)
	require.NoError(t, err)

	require.NoError(t, s.Unsubscribe(h))
	require.NoError(t, s.Write(ctx, "products/u1/a", []byte(`{"name":"A"}`)))
	assert.Len(t, rec.snaps, 1)
	assert.Equal(t, 0, s.Subscriptions("products/u1"))

	require.ErrorIs(t, s.Unsubscribe(h), realtime.ErrUnknownHandle)
}

func TestRealtimeStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	boom := errors.New("boom")
	s.FailWrites(boom)

	require.ErrorIs(t, s.Write(ctx, "products/u1/a", []byte(`{}`)), boom)
	_, ok := s.Get("products/u1/a")
	assert.False(t, ok)

	s.FailWrites(nil)
	require.NoError(t, s.Write(ctx, "products/u1/a", []byte(`{}`)))
	v, ok := s.Get("products/u1/a")
	require.True(t, ok)
	assert.Equal(t, `{}`, string(v))
}

func TestRealtimeStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s := NewRealtimeStore()
	require.Error(t, s.Write(ctx, "products", []byte(`{}`)))
	require.Error(t, s.Write(ctx, "products/u1/a", []byte(`{`)))
	require.Error(t, s.Update(ctx, "products/u1/a", []byte(`[1]`)))
}
