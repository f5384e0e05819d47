package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/mercari-scraper/internal/models"
)

// UpsertSink writes records idempotently by URL.
type UpsertSink struct {
	store    Storage
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type SinkOption func(*UpsertSink)

// WithNotifier registers n to hear about successful writes.
func WithNotifier(n Notifier) SinkOption {
	return func(s *UpsertSink) { s.notifier = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SinkOption {
	return func(s *UpsertSink) { s.now = now }
}

func NewUpsertSink(store Storage, logger *slog.Logger, opts ...SinkOption) *UpsertSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &UpsertSink{
		store:  store,
		logger: logger.With("component", "upsert_sink"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts rec or overwrites the mutable fields of the stored record
// with the same URL, preserving its CreatedAt. rec's timestamps are updated
// to what was stored. created reports whether a new row was written.
func (s *UpsertSink) Upsert(ctx context.Context, rec *models.ProductRecord) (created bool, err error) {
	key := rec.Key()
	now := s.now()

	existing, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return false, &PersistenceError{Key: key, Op: "find", Err: err}
	}

	if existing == nil {
		rec.CreatedAt = now
		rec.UpdatedAt = now
		err = s.store.Insert(ctx, rec)
		if err == nil {
			created = true
		} else if errors.Is(err, ErrDuplicateKey) {
			// a concurrent run inserted the key first
			s.logger.Debug("insert lost race, updating instead", "url", key)
			existing, err = s.store.FindByKey(ctx, key)
			if err != nil {
				return false, &PersistenceError{Key: key, Op: "find", Err: err}
			}
			if existing == nil {
				return false, &PersistenceError{Key: key, Op: "insert", Err: ErrDuplicateKey}
			}
		} else {
			return false, &PersistenceError{Key: key, Op: "insert", Err: err}
		}
	}

	if !created {
		if err := s.store.Update(ctx, key, rec.ProductFields, now); err != nil {
			return false, &PersistenceError{Key: key, Op: "update", Err: err}
		}
		rec.CreatedAt = existing.CreatedAt
		rec.UpdatedAt = now
	}

	s.logger.Debug("record upserted", "url", key, "created", created)

	if s.notifier != nil {
		if err := s.notifier.RecordUpserted(ctx, rec, created); err != nil {
			s.logger.Warn("failed to notify upsert", "url", key, "error", err)
		}
	}

	return created, nil
}
