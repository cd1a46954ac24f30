package storage

import (
	"context"
	"testing"

	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.Repository {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	site := storagetest.NewSite("site-1", domain.GeoPoint{Latitude: 48.85, Longitude: 2.35})
	require.NoError(t, store.CreateSite(ctx, site))

	site.Name = "mutated after create"

	got, err := store.GetSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "Site site-1", got.Name)

	got.Name = "mutated after get"
	again, err := store.GetSite(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "Site site-1", again.Name)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, items, paginate(items, 0, 0))
	assert.Equal(t, []int{3, 4}, paginate(items, 2, 2))
	assert.Equal(t, []int{5}, paginate(items, 10, 4))
	assert.Nil(t, paginate(items, 2, 5))
	assert.Equal(t, []int{1}, paginate(items, 1, -3))
}
