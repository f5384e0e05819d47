package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// OutboxStatusPending events are waiting for their next publish attempt.
	OutboxStatusPending = "pending"
	// OutboxStatusPublished events reached the stream.
	OutboxStatusPublished = "published"
	// OutboxStatusDeadLetter events ran out of attempts and are kept for inspection.
	OutboxStatusDeadLetter = "dead_letter"

	// DefaultTargetStream receives listing events when none is set on the event.
	DefaultTargetStream = "stream:mercari_products"
)

// OutboxEvent is a listing change waiting to be relayed to a redis stream.
type OutboxEvent struct {
	ID         uuid.UUID
	ListingURL string
	SiteID     string
	EventType  string
	// Payload is the JSON document consumers receive unchanged.
	Payload       json.RawMessage
	Stream        string
	Status        string
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	NextAttemptAt time.Time
}

// OutboxBacklog counts events that still need attention.
type OutboxBacklog struct {
	Pending    int64
	DeadLetter int64
}

// OutboxRepository stores listing events in the listing_outbox table.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue writes event inside tx, so it commits or rolls back with the
// caller's other writes.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ListingURL == "" || event.EventType == "" {
		return errors.New("outbox event requires a listing url and an event type")
	}
	if !json.Valid(event.Payload) {
		return errors.New("outbox event payload is not valid JSON")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Stream == "" {
		event.Stream = DefaultTargetStream
	}
	event.Status = OutboxStatusPending
	event.CreatedAt = time.Now()
	event.NextAttemptAt = event.CreatedAt

	_, err := tx.Exec(ctx, `
		INSERT INTO listing_outbox (
			id, listing_url, site_id, event_type, payload, stream,
			status, attempts, created_at, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		event.ID, event.ListingURL, event.SiteID, event.EventType, event.Payload, event.Stream,
		event.Status, event.CreatedAt, event.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue listing event: %w", err)
	}
	return nil
}

// Due returns up to limit pending events whose next attempt has come, oldest
// first.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, listing_url, site_id, event_type, payload, stream,
			status, attempts, last_error, created_at, published_at, next_attempt_at
		FROM listing_outbox
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY created_at
		LIMIT $2`, OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*OutboxEvent, error) {
		e := &OutboxEvent{}
		err := row.Scan(&e.ID, &e.ListingURL, &e.SiteID, &e.EventType, &e.Payload, &e.Stream,
			&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt, &e.NextAttemptAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan due events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE listing_outbox
		SET status = $1, published_at = NOW(), last_error = NULL
		WHERE id = $2`, OutboxStatusPublished, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// RecordFailure stores a failed attempt. A zero next moves the event to the
// dead letter state; otherwise it stays pending until next.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, cause error, next time.Time) error {
	status := OutboxStatusPending
	var nextAt *time.Time
	if next.IsZero() {
		status = OutboxStatusDeadLetter
	} else {
		nextAt = &next
	}

	tag, err := r.db.pool.Exec(ctx, `
		UPDATE listing_outbox
		SET status = $1, attempts = $2, last_error = $3,
			next_attempt_at = COALESCE($4, next_attempt_at)
		WHERE id = $5`, status, attempts, cause.Error(), nextAt, id)
	if err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

func (r *OutboxRepository) Backlog(ctx context.Context) (OutboxBacklog, error) {
	var b OutboxBacklog
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		FROM listing_outbox`, OutboxStatusPending, OutboxStatusDeadLetter).Scan(&b.Pending, &b.DeadLetter)
	if err != nil {
		return OutboxBacklog{}, fmt.Errorf("failed to count outbox backlog: %w", err)
	}
	return b, nil
}
