// Package history persists finished runs and serves aggregate statistics.
package history

import (
	"context"
	"time"
)

// Run is the durable record of one finished task.
type Run struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	ItemsScraped int       `json:"items_scraped"`
	TotalItems   int       `json:"total_items"`
	ErrorCount   int       `json:"error_count"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Stats aggregates all recorded runs.
type Stats struct {
	TotalRuns         int     `json:"total_runs"`
	CompletedRuns     int     `json:"completed_runs"`
	FailedRuns        int     `json:"failed_runs"`
	TotalItemsScraped int     `json:"total_items_scraped"`
	SuccessRate       float64 `json:"success_rate"`
}

// Store persists runs. Both the Postgres-backed store and the in-memory
// fallback implement it.
type Store interface {
	RecordRun(ctx context.Context, run Run) error
	Stats(ctx context.Context) (*Stats, error)
}
