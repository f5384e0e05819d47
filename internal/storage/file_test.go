package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/models"
)

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "products.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &models.ProductRecord{
		URL:           "https://jp.mercari.com/item/m1",
		ProductFields: models.ProductFields{Name: "Tent", Price: 12000, PriceText: "¥12,000"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, fs.Insert(ctx, rec))
	require.NoError(t, fs.Update(ctx, rec.URL, models.ProductFields{Name: "Tent", Price: 9000, PriceText: "¥9,000"}, now.Add(time.Hour)))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	got, err := reopened.FindByKey(ctx, rec.URL)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 9000, got.Price)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.True(t, got.UpdatedAt.Equal(now.Add(time.Hour)))
}

func TestFileStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	fs := NewMemoryStore()
	rec := &models.ProductRecord{URL: "https://jp.mercari.com/item/m2"}

	require.NoError(t, fs.Insert(ctx, rec))
	assert.ErrorIs(t, fs.Insert(ctx, rec), ErrDuplicateKey)
}

func TestFileStore_FindMissing(t *testing.T) {
	got, err := NewMemoryStore().FindByKey(context.Background(), "https://jp.mercari.com/item/none")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore_UpdateMissing(t *testing.T) {
	err := NewMemoryStore().Update(context.Background(), "https://jp.mercari.com/item/none", models.ProductFields{}, time.Now())
	assert.Error(t, err)
}

func TestFileStore_AllSorted(t *testing.T) {
	ctx := context.Background()
	fs := NewMemoryStore()
	for _, u := range []string{"https://x/b", "https://x/a", "https://x/c"} {
		require.NoError(t, fs.Insert(ctx, &models.ProductRecord{URL: u}))
	}

	all := fs.All()
	require.Len(t, all, 3)
	assert.Equal(t, "https://x/a", all[0].URL)
	assert.Equal(t, "https://x/c", all[2].URL)
}

func TestFileStore_FailedSaveLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.Mkdir(dir, 0o755))

	fs, err := NewFileStore(filepath.Join(dir, "products.json"))
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kept := &models.ProductRecord{
		URL:           "https://jp.mercari.com/item/m10",
		ProductFields: models.ProductFields{Name: "Lamp", Price: 3000, PriceText: "¥3,000"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, fs.Insert(ctx, kept))

	// every later save fails
	require.NoError(t, os.RemoveAll(dir))

	t.Run("insert", func(t *testing.T) {
		lost := &models.ProductRecord{URL: "https://jp.mercari.com/item/m11"}
		require.Error(t, fs.Insert(ctx, lost))

		got, err := fs.FindByKey(ctx, lost.URL)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 1, fs.Len())

		// the key is free again once saving works
		require.NoError(t, os.Mkdir(dir, 0o755))
		defer os.RemoveAll(dir)
		assert.NoError(t, fs.Insert(ctx, lost))
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(dir))
		err := fs.Update(ctx, kept.URL, models.ProductFields{Name: "Lamp", Price: 100, PriceText: "¥100"}, now.Add(time.Hour))
		require.Error(t, err)

		got, err := fs.FindByKey(ctx, kept.URL)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 3000, got.Price)
		assert.Equal(t, "¥3,000", got.PriceText)
		assert.True(t, got.UpdatedAt.Equal(now))
	})
}
