package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/mercari-scraper/internal/database"
	"github.com/maltedev/mercari-scraper/pkg/logger"
)

type fakeStream struct {
	mu       sync.Mutex
	groupErr error
	batches  [][]redis.XMessage
	acked    []string
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if len(f.batches) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	f.mu.Unlock()
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: batch}}, nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func relayMessage(t *testing.T, id string, eventType EventType, url string) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(&ProductEventPayload{
		EventType: string(eventType),
		URL:       url,
		Name:      "ニンテンドースイッチ",
		Price:     &Price{Amount: 12000, Currency: "JPY"},
	})
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: database.StreamValues(&database.OutboxEvent{
		ID:         uuid.New(),
		ListingURL: url,
		EventType:  string(eventType),
		Payload:    data,
		CreatedAt:  time.Now(),
	})}
}

func TestDecodeMessage(t *testing.T) {
	valid := relayMessage(t, "1-0", EventTypeProductCreated, "https://jp.mercari.com/item/m1")

	eventType, payload, err := DecodeMessage(valid)
	require.NoError(t, err)
	assert.Equal(t, EventTypeProductCreated, eventType)
	assert.Equal(t, "https://jp.mercari.com/item/m1", payload.URL)
	assert.Equal(t, 12000, payload.Price.Amount)

	// the url routing field fills a payload written without one
	bare := redis.XMessage{ID: "1-1", Values: map[string]interface{}{
		"event_type": "PRODUCT_UPDATED",
		"url":        "https://jp.mercari.com/item/m2",
		"data":       `{"name":"x"}`,
	}}
	_, payload, err = DecodeMessage(bare)
	require.NoError(t, err)
	assert.Equal(t, "https://jp.mercari.com/item/m2", payload.URL)

	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"no event type", map[string]interface{}{"data": valid.Values["data"]}},
		{"no data", map[string]interface{}{"event_type": "PRODUCT_CREATED"}},
		{"bad json", map[string]interface{}{"event_type": "PRODUCT_CREATED", "data": "{"}},
		{"no listing url", map[string]interface{}{"event_type": "PRODUCT_CREATED", "data": `{"name":"x"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeMessage(redis.XMessage{ID: "2-0", Values: tt.values})
			assert.Error(t, err)
		})
	}
}

func TestConsumer_Run(t *testing.T) {
	stream := &fakeStream{
		groupErr: errors.New("BUSYGROUP Consumer Group name already exists"),
		batches: [][]redis.XMessage{{
			relayMessage(t, "1-0", EventTypeProductCreated, "https://jp.mercari.com/item/m1"),
			{ID: "2-0", Values: map[string]interface{}{"event_type": "PRODUCT_CREATED"}},
			relayMessage(t, "3-0", EventTypeProductUpdated, "https://jp.mercari.com/item/fail"),
			relayMessage(t, "4-0", EventTypeProductUpdated, "https://jp.mercari.com/item/m2"),
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, eventType EventType, p *ProductEventPayload) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(eventType)+" "+p.URL)
		if p.URL == "https://jp.mercari.com/item/fail" {
			return errors.New("downstream unavailable")
		}
		if len(seen) == 3 {
			cancel()
		}
		return nil
	}

	c := NewConsumer(stream, ConsumerConfig{Stream: "stream:mercari_products", Block: 10 * time.Millisecond}, handler, logger.Discard())
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{
		"PRODUCT_CREATED https://jp.mercari.com/item/m1",
		"PRODUCT_UPDATED https://jp.mercari.com/item/fail",
		"PRODUCT_UPDATED https://jp.mercari.com/item/m2",
	}, seen)
	// the failed event stays pending, the malformed one is dropped
	assert.Equal(t, []string{"1-0", "2-0", "4-0"}, stream.ackedIDs())
}

func TestConsumer_GroupCreateFails(t *testing.T) {
	stream := &fakeStream{groupErr: errors.New("NOAUTH Authentication required")}
	c := NewConsumer(stream, ConsumerConfig{Stream: "s"}, nil, logger.Discard())

	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "failed to create consumer group")
}
