package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/mercari-scraper/internal/database"
	"github.com/maltedev/mercari-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductCreated is published the first time a listing is stored
	EventTypeProductCreated EventType = "PRODUCT_CREATED"
	// EventTypeProductUpdated is published when a stored listing is refreshed
	EventTypeProductUpdated EventType = "PRODUCT_UPDATED"

	Source = "mercari-scraper"
)

// ProductEventPayload is the JSON document carried by listing events.
type ProductEventPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	SiteID      string    `json:"site_id,omitempty"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Price       *Price    `json:"price,omitempty"`
	PriceText   string    `json:"price_text"`
	ImageURL    string    `json:"image_url,omitempty"`
	Category    string    `json:"category,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	SellerName  string    `json:"seller_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Source      string    `json:"source"`
}

// Price represents listing pricing information
type Price struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// NewProductEventPayload builds the payload for rec.
func NewProductEventPayload(rec *models.ProductRecord, created bool) *ProductEventPayload {
	eventType := EventTypeProductUpdated
	if created {
		eventType = EventTypeProductCreated
	}

	payload := &ProductEventPayload{
		EventType:   string(eventType),
		Timestamp:   rec.UpdatedAt,
		SiteID:      rec.SiteID,
		URL:         rec.URL,
		Name:        rec.Name,
		PriceText:   rec.PriceText,
		ImageURL:    rec.ImageURL,
		Category:    rec.Category,
		Condition:   rec.Condition,
		SellerName:  rec.SellerName,
		Description: rec.Description,
		Brand:       rec.Brand,
		FirstSeenAt: rec.CreatedAt,
		Source:      Source,
	}
	if rec.Price > 0 {
		payload.Price = &Price{Amount: rec.Price, Currency: "JPY"}
	}
	return payload
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type outboxEnqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher handles event publishing using transactional outbox pattern
type Publisher struct {
	db     transactor
	outbox outboxEnqueuer
	stream string
	logger *slog.Logger
}

// NewPublisher creates a new event publisher with database connection
func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db transactor, outbox outboxEnqueuer, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// RecordUpserted lets the publisher act as the upsert sink's notifier.
func (p *Publisher) RecordUpserted(ctx context.Context, rec *models.ProductRecord, created bool) error {
	return p.Publish(ctx, NewProductEventPayload(rec, created))
}

// Publish writes payload to the outbox in its own transaction.
func (p *Publisher) Publish(ctx context.Context, payload *ProductEventPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeProductUpdated)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = Source
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		ListingURL: payload.URL,
		SiteID:     payload.SiteID,
		EventType:  payload.EventType,
		Payload:    data,
		Stream:     p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.Enqueue(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"url", outboxEvent.ListingURL,
		"outbox_id", outboxEvent.ID,
	)
	return nil
}
