package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamWriter is the part of the redis client the relay writes with.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxSource is what the relay needs from the outbox table.
type OutboxSource interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, attempts int, cause error, next time.Time) error
	Backlog(ctx context.Context) (OutboxBacklog, error)
}

// RelayConfig controls polling and the retry policy for failed publishes.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is how many publishes are tried before an event is dead-lettered.
	MaxAttempts int
	// BaseBackoff doubles per failed attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	return c
}

// backoff is the wait after the given number of failed attempts.
func (c RelayConfig) backoff(attempts int) time.Duration {
	d := c.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// Stream entry fields written for every listing event.
const (
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldURL       = "url"
	FieldSiteID    = "site_id"
	FieldData      = "data"
	FieldCreatedAt = "created_at"
)

// errUndeliverable marks events that no retry can publish.
var errUndeliverable = errors.New("event cannot be delivered")

// Relay moves due listing events from the outbox to their redis stream.
type Relay struct {
	redis  StreamWriter
	outbox OutboxSource
	cfg    RelayConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewRelay(db *DB, redisClient StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), redisClient, logger, cfg)
}

func newRelay(outbox OutboxSource, redisClient StreamWriter, logger *slog.Logger, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		redis:  redisClient,
		outbox: outbox,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger.With("component", "relay"),
	}
}

// Start relays due events every poll interval until ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"max_attempts", r.cfg.MaxAttempts)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.relayBatch(ctx); err != nil {
			r.logger.Error("failed to relay events", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// relayBatch publishes one batch; per-event failures are recorded on the
// event and do not stop the batch.
func (r *Relay) relayBatch(ctx context.Context) error {
	events, err := r.outbox.Due(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load due events: %w", err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.relay(ctx, event)
	}
	return nil
}

func (r *Relay) relay(ctx context.Context, event *OutboxEvent) {
	log := r.logger.With("event_id", event.ID, "url", event.ListingURL)

	err := r.publish(ctx, event)
	if err == nil {
		if err := r.outbox.MarkPublished(ctx, event.ID); err != nil {
			// the event will be published again; consumers see a duplicate
			log.Error("failed to mark event published", "error", err)
			return
		}
		log.Debug("event relayed", "type", event.EventType, "stream", event.Stream)
		return
	}

	attempts := event.Attempts + 1
	var next time.Time
	if attempts < r.cfg.MaxAttempts && !errors.Is(err, errUndeliverable) {
		next = r.now().Add(r.cfg.backoff(attempts - 1))
	}

	if next.IsZero() {
		log.Warn("dead-lettering listing event", "attempts", attempts, "error", err)
	} else {
		log.Error("failed to relay event", "attempts", attempts, "retry_at", next, "error", err)
	}
	if markErr := r.outbox.RecordFailure(ctx, event.ID, attempts, err, next); markErr != nil {
		log.Error("failed to record relay failure", "error", markErr)
	}
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if len(event.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", errUndeliverable)
	}

	err := r.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: event.Stream,
		Values: StreamValues(event),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// StreamValues is the stream entry for event. Consumers can route on url
// and site_id without decoding data.
func StreamValues(event *OutboxEvent) map[string]interface{} {
	return map[string]interface{}{
		FieldEventID:   event.ID.String(),
		FieldEventType: event.EventType,
		FieldURL:       event.ListingURL,
		FieldSiteID:    event.SiteID,
		FieldData:      string(event.Payload),
		FieldCreatedAt: strconv.FormatInt(event.CreatedAt.UnixMilli(), 10),
	}
}

// GetPendingCount returns how many events still wait to be published.
func (r *Relay) GetPendingCount(ctx context.Context) (int64, error) {
	b, err := r.outbox.Backlog(ctx)
	if err != nil {
		return 0, err
	}
	return b.Pending, nil
}

func (r *Relay) GetDeadLetterCount(ctx context.Context) (int64, error) {
	b, err := r.outbox.Backlog(ctx)
	if err != nil {
		return 0, err
	}
	return b.DeadLetter, nil
}
