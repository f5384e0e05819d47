package database

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		url          TEXT PRIMARY KEY,
		site_id      TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL,
		price        INTEGER NOT NULL DEFAULT 0,
		price_text   TEXT NOT NULL,
		image_url    TEXT NOT NULL DEFAULT '',
		category     TEXT,
		condition    TEXT,
		seller_name  TEXT,
		description  TEXT,
		brand        TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_site_id ON products (site_id)`,
	`CREATE TABLE IF NOT EXISTS listing_outbox (
		id               UUID PRIMARY KEY,
		listing_url      TEXT NOT NULL,
		site_id          TEXT NOT NULL DEFAULT '',
		event_type       TEXT NOT NULL,
		payload          JSONB NOT NULL,
		stream           TEXT NOT NULL,
		status           TEXT NOT NULL,
		attempts         INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at     TIMESTAMPTZ,
		next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listing_outbox_due ON listing_outbox (status, next_attempt_at)`,
	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id            TEXT PRIMARY KEY,
		trigger       TEXT NOT NULL,
		seed_url      TEXT NOT NULL,
		paginated     BOOLEAN NOT NULL DEFAULT FALSE,
		result_limit  INTEGER NOT NULL,
		status        TEXT NOT NULL,
		stats         JSONB,
		error         TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created ON scrape_jobs (created_at DESC)`,
}

// Migrate creates the products, outbox and job tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}
	return nil
}
