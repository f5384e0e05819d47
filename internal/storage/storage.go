package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/mercari-scraper/internal/models"
)

// ErrDuplicateKey is returned by Insert when the natural key already exists.
var ErrDuplicateKey = errors.New("duplicate key")

// Storage is the key-value view of the product table the sink writes through.
type Storage interface {
	// FindByKey returns nil, nil when no record exists for key.
	FindByKey(ctx context.Context, key string) (*models.ProductRecord, error)
	Insert(ctx context.Context, rec *models.ProductRecord) error
	Update(ctx context.Context, key string, fields models.ProductFields, updatedAt time.Time) error
}

// Notifier is told about every record written by the sink.
type Notifier interface {
	RecordUpserted(ctx context.Context, rec *models.ProductRecord, created bool) error
}

// PersistenceError wraps any failure of the backing store.
type PersistenceError struct {
	Key string
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
