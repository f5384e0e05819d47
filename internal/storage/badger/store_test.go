package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/storage"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertThroughSink(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sink := storage.NewUpsertSink(s, logger.Discard())

	rec := &models.ProductRecord{
		URL:           "https://jp.mercari.com/item/m100",
		ProductFields: models.ProductFields{Name: "Kettle", Price: 2500, PriceText: "¥2,500"},
	}
	created, err := sink.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	firstCreated := rec.CreatedAt

	time.Sleep(time.Millisecond)
	again := &models.ProductRecord{
		URL:           "https://jp.mercari.com/item/m100",
		ProductFields: models.ProductFields{Name: "Kettle", Price: 2000, PriceText: "¥2,000"},
	}
	created, err = sink.Upsert(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := s.FindByKey(ctx, rec.URL)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2000, stored.Price)
	assert.True(t, stored.CreatedAt.Equal(firstCreated))
	assert.True(t, stored.UpdatedAt.After(firstCreated))

	n, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := &models.ProductRecord{URL: "https://jp.mercari.com/item/m101"}

	require.NoError(t, s.Insert(ctx, rec))
	assert.ErrorIs(t, s.Insert(ctx, rec), storage.ErrDuplicateKey)
}

func TestStore_FindMissing(t *testing.T) {
	s := openTestStore(t)

	got, err := s.FindByKey(context.Background(), "https://jp.mercari.com/item/none")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
