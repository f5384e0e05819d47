package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/mercari-scraper/internal/database"
)

// StreamClient is the subset of the redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler receives every decoded listing event. A returned error leaves the
// message unacknowledged so it is delivered again.
type Handler func(ctx context.Context, eventType EventType, payload *ProductEventPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
}

// Consumer reads listing events published by the relay through a consumer
// group.
type Consumer struct {
	client  StreamClient
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "listing-consumer-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "event_consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

// Run consumes until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	eventType, payload, err := DecodeMessage(msg)
	if err != nil {
		// undecodable messages would be redelivered forever
		c.logger.Warn("dropping malformed event", "id", msg.ID, "url", msg.Values[database.FieldURL], "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler(ctx, eventType, payload); err != nil {
		c.logger.Error("failed to process event", "id", msg.ID, "url", payload.URL, "error", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge event", "id", id, "error", err)
	}
}

// DecodeMessage reads a stream entry written by the outbox relay.
func DecodeMessage(msg redis.XMessage) (EventType, *ProductEventPayload, error) {
	eventType, _ := msg.Values[database.FieldEventType].(string)
	if eventType == "" {
		return "", nil, errors.New("missing event_type")
	}
	data, ok := msg.Values[database.FieldData].(string)
	if !ok {
		return "", nil, errors.New("missing data")
	}

	var payload ProductEventPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", nil, fmt.Errorf("failed to parse event data: %w", err)
	}
	if payload.URL == "" {
		payload.URL, _ = msg.Values[database.FieldURL].(string)
	}
	if payload.URL == "" {
		return "", nil, errors.New("event carries no listing")
	}
	return EventType(eventType), &payload, nil
}
