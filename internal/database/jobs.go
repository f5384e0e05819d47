package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/mercari-scraper/internal/jobs"
	"github.com/maltedev/mercari-scraper/internal/models"
)

// JobStore keeps run jobs in the scrape_jobs table.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, trigger, seed_url, paginated, result_limit, status,
	stats, error, created_at, started_at, completed_at`

func (s *JobStore) Save(ctx context.Context, job *jobs.Job) error {
	var stats []byte
	if job.Stats != nil {
		var err error
		stats, err = json.Marshal(job.Stats)
		if err != nil {
			return fmt.Errorf("failed to marshal job stats: %w", err)
		}
	}

	query := `
		INSERT INTO scrape_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stats = EXCLUDED.stats,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`

	_, err := s.db.pool.Exec(ctx, query,
		job.ID, string(job.Trigger), job.Seed.URL, job.Seed.Paginated, job.Limit, string(job.Status),
		stats, nullable(job.Error), job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE id = $1`

	job, err := scanJob(s.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns the newest jobs first.
func (s *JobStore) List(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var job jobs.Job
	var trigger, status string
	var stats []byte
	var errMsg *string

	err := row.Scan(
		&job.ID, &trigger, &job.Seed.URL, &job.Seed.Paginated, &job.Limit, &status,
		&stats, &errMsg, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Trigger = jobs.Trigger(trigger)
	job.Status = jobs.Status(status)
	job.Error = deref(errMsg)
	if len(stats) > 0 {
		job.Stats = &models.RunStatistics{}
		if err := json.Unmarshal(stats, job.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job stats: %w", err)
		}
	}
	return &job, nil
}
