package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maltedev/mercari-scraper/internal/models"
	"github.com/maltedev/mercari-scraper/internal/storage"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// ProductStore persists listings in the products table keyed by URL.
type ProductStore struct {
	db *DB
}

func NewProductStore(db *DB) *ProductStore {
	return &ProductStore{db: db}
}

func (s *ProductStore) FindByKey(ctx context.Context, key string) (*models.ProductRecord, error) {
	query := `
		SELECT url, site_id, name, price, price_text, image_url,
			category, condition, seller_name, description, brand,
			created_at, updated_at
		FROM products
		WHERE url = $1`

	var rec models.ProductRecord
	var category, condition, seller, description, brand *string
	err := s.db.pool.QueryRow(ctx, query, key).Scan(
		&rec.URL, &rec.SiteID, &rec.Name, &rec.Price, &rec.PriceText, &rec.ImageURL,
		&category, &condition, &seller, &description, &brand,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	rec.Category = deref(category)
	rec.Condition = deref(condition)
	rec.SellerName = deref(seller)
	rec.Description = deref(description)
	rec.Brand = deref(brand)
	return &rec, nil
}

func (s *ProductStore) Insert(ctx context.Context, rec *models.ProductRecord) error {
	query := `
		INSERT INTO products (
			url, site_id, name, price, price_text, image_url,
			category, condition, seller_name, description, brand,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	_, err := s.db.pool.Exec(ctx, query,
		rec.URL, rec.SiteID, rec.Name, rec.Price, rec.PriceText, rec.ImageURL,
		nullable(rec.Category), nullable(rec.Condition), nullable(rec.SellerName),
		nullable(rec.Description), nullable(rec.Brand),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *ProductStore) Update(ctx context.Context, key string, fields models.ProductFields, updatedAt time.Time) error {
	query := `
		UPDATE products SET
			site_id = $2,
			name = $3,
			price = $4,
			price_text = $5,
			image_url = $6,
			category = $7,
			condition = $8,
			seller_name = $9,
			description = $10,
			brand = $11,
			updated_at = $12
		WHERE url = $1`

	result, err := s.db.pool.Exec(ctx, query,
		key, fields.SiteID, fields.Name, fields.Price, fields.PriceText, fields.ImageURL,
		nullable(fields.Category), nullable(fields.Condition), nullable(fields.SellerName),
		nullable(fields.Description), nullable(fields.Brand),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("product not found: %s", key)
	}
	return nil
}

// Count returns the number of stored listings.
func (s *ProductStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
