package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/storage"
)

// Store is an embedded product store keyed by listing URL.
type Store struct {
	store *badgerhold.Store
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{store: store}, nil
}

func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Store) FindByKey(ctx context.Context, key string) (*models.ProductRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec models.ProductRecord
	if err := s.store.Get(key, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec *models.ProductRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Insert(rec.URL, rec); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key string, fields models.ProductFields, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var rec models.ProductRecord
	if err := s.store.Get(key, &rec); err != nil {
		return fmt.Errorf("failed to load product for update: %w", err)
	}
	rec.ProductFields = fields
	rec.UpdatedAt = updatedAt

	if err := s.store.Update(key, &rec); err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// Count returns the number of stored products.
func (s *Store) Count() (uint64, error) {
	return s.store.Count(&models.ProductRecord{}, nil)
}
