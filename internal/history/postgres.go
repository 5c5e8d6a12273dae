package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maltedev/jewelry-scraper/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	items_scraped INT NOT NULL,
	total_items   INT NOT NULL,
	error_count   INT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists runs in the scrape_runs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) RecordRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_runs (id, status, items_scraped, total_items, error_count, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			items_scraped = EXCLUDED.items_scraped,
			total_items = EXCLUDED.total_items,
			error_count = EXCLUDED.error_count,
			finished_at = EXCLUDED.finished_at`,
		run.ID, run.Status, run.ItemsScraped, run.TotalItems, run.ErrorCount, run.CreatedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COALESCE(SUM(items_scraped), 0)
		FROM scrape_runs`).Scan(
		&stats.TotalRuns, &stats.CompletedRuns, &stats.FailedRuns, &stats.TotalItemsScraped)
	if err != nil {
		return nil, fmt.Errorf("failed to query run stats: %w", err)
	}

	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(stats.TotalRuns)
	}

	return &stats, nil
}
