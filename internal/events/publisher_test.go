package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/database"
	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/storage"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

type fakeTransactor struct {
	err error
}

func (f *fakeTransactor) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) Enqueue(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func sampleRecord() *models.ProductRecord {
	created := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	return &models.ProductRecord{
		URL: "https://jp.mercari.com/item/m55512345678",
		ProductFields: models.ProductFields{
			SiteID:    "m55512345678",
			Name:      "Canvas tote",
			Price:     1980,
			PriceText: "¥1,980",
			Category:  "トートバッグ",
		},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
}

func TestNewProductEventPayload(t *testing.T) {
	tests := []struct {
		name      string
		created   bool
		price     int
		wantType  string
		wantPrice *Price
	}{
		{name: "created", created: true, price: 1980, wantType: "PRODUCT_CREATED", wantPrice: &Price{Amount: 1980, Currency: "JPY"}},
		{name: "updated", created: false, price: 1980, wantType: "PRODUCT_UPDATED", wantPrice: &Price{Amount: 1980, Currency: "JPY"}},
		{name: "zero price omitted", created: true, price: 0, wantType: "PRODUCT_CREATED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Price = tt.price

			p := NewProductEventPayload(rec, tt.created)
			assert.Equal(t, tt.wantType, p.EventType)
			assert.Equal(t, tt.wantPrice, p.Price)
			assert.Equal(t, rec.CreatedAt, p.FirstSeenAt)
			assert.Equal(t, rec.UpdatedAt, p.Timestamp)
			assert.Equal(t, Source, p.Source)
		})
	}
}

func TestPublisher_RecordUpserted(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutbox)
	pub := newPublisher(&fakeTransactor{}, outbox, "", logger.Discard())

	var captured *database.OutboxEvent
	outbox.On("Enqueue", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(2).(*database.OutboxEvent)
	}).Return(nil)

	require.NoError(t, pub.RecordUpserted(ctx, sampleRecord(), true))
	require.NotNil(t, captured)

	assert.Equal(t, "https://jp.mercari.com/item/m55512345678", captured.ListingURL)
	assert.Equal(t, "m55512345678", captured.SiteID)
	assert.Equal(t, "PRODUCT_CREATED", captured.EventType)
	assert.Equal(t, database.DefaultTargetStream, captured.Stream)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(captured.Payload, &body))
	assert.NotEmpty(t, body["event_id"])
	assert.Equal(t, "Canvas tote", body["name"])
	assert.Equal(t, "mercari-scraper", body["source"])
}

func TestPublisher_CustomStream(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutbox)
	pub := newPublisher(&fakeTransactor{}, outbox, "stream:custom", logger.Discard())

	outbox.On("Enqueue", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		return e.Stream == "stream:custom"
	})).Return(nil)

	require.NoError(t, pub.Publish(ctx, &ProductEventPayload{URL: "https://jp.mercari.com/item/m1"}))
	outbox.AssertExpectations(t)
}

func TestPublisher_TransactionFailure(t *testing.T) {
	pub := newPublisher(&fakeTransactor{err: errors.New("begin failed")}, new(MockOutbox), "", logger.Discard())

	err := pub.RecordUpserted(context.Background(), sampleRecord(), false)
	assert.ErrorContains(t, err, "failed to publish event")
}

func TestPublisher_AsSinkNotifier(t *testing.T) {
	ctx := context.Background()
	outbox := new(MockOutbox)
	outbox.On("Enqueue", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		return e.EventType == "PRODUCT_CREATED"
	})).Return(nil).Once()
	outbox.On("Enqueue", ctx, mock.Anything, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		return e.EventType == "PRODUCT_UPDATED"
	})).Return(nil).Once()

	pub := newPublisher(&fakeTransactor{}, outbox, "", logger.Discard())
	sink := storage.NewUpsertSink(storage.NewMemoryStore(), logger.Discard(), storage.WithNotifier(pub))

	for i := 0; i < 2; i++ {
		_, err := sink.Upsert(ctx, sampleRecord())
		require.NoError(t, err)
	}
	outbox.AssertExpectations(t)
}
