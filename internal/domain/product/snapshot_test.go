package product

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	price := decimal.RequireFromString("12.50")

	tests := []struct {
		name string
		raw  string
		want []Product
	}{
		{
			name: "single product takes id from key",
			raw:  `{"k1":{"name":"Chair","description":"Wood","userId":"u1","timestamp":"T"}}`,
			want: []Product{{ID: "k1", Name: "Chair", Description: "Wood", UserID: "u1", Timestamp: "T"}},
		},
		{
			name: "empty input",
			raw:  "",
			want: []Product{},
		},
		{
			name: "null",
			raw:  "null",
			want: []Product{},
		},
		{
			name: "empty object",
			raw:  "{}",
			want: []Product{},
		},
		{
			name: "document order is kept",
			raw:  `{"b":{"name":"Second"},"a":{"name":"First"}}`,
			want: []Product{{ID: "b", Name: "Second"}, {ID: "a", Name: "First"}},
		},
		{
			name: "null entries are skipped",
			raw:  `{"a":null,"b":{"name":"Lamp"}}`,
			want: []Product{{ID: "b", Name: "Lamp"}},
		},
		{
			name: "numeric price and image",
			raw:  `{"p":{"name":"Desk","price":12.50,"imageURL":"https://img/desk.png"}}`,
			want: []Product{{ID: "p", Name: "Desk", Price: &price, ImageURL: "https://img/desk.png"}},
		},
		{
			name: "null price and unknown fields",
			raw:  `{"p":{"name":"Desk","price":null,"color":"red","tags":["a"]}}`,
			want: []Product{{ID: "p", Name: "Desk"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.raw))
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assertProductEqual(t, tt.want[i], got[i])
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"text"`, `{"k":"not an object"}`, `{"k":{"price":true}}`} {
		_, err := Normalize([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	price := decimal.RequireFromString("99.99")
	now := time.Date(2025, 3, 1, 9, 30, 15, 123_000_000, time.UTC)

	rec := Draft{
		Name:        "Table",
		Description: "Oak \"solid\"",
		Price:       &price,
		ImageURL:    "https://cdn/table.jpg",
	}.Record("u1", now)
	assert.Equal(t, "2025-03-01T09:30:15.123Z", rec.Timestamp)

	got, err := Decode(Encode(rec))
	require.NoError(t, err)
	assertProductEqual(t, rec, got)

	rec.Price = nil
	got, err = Decode(Encode(rec))
	require.NoError(t, err)
	assert.Nil(t, got.Price)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "products/u1", CollectionPath("u1"))
	assert.Equal(t, "products/u1/p1", ItemPath("u1", "p1"))
	assert.Equal(t, "product_images/u1/p1", ImagePath("u1", "p1"))
}

func assertProductEqual(t *testing.T, want, got Product) {
	t.Helper()
	if want.Price == nil {
		assert.Nil(t, got.Price)
	} else {
		require.NotNil(t, got.Price)
		assert.True(t, want.Price.Equal(*got.Price), "price %s != %s", want.Price, got.Price)
	}
	want.Price, got.Price = nil, nil
	assert.Equal(t, want, got)
}
