package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		store := NewMemoryStore()

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalRuns)
		assert.Zero(t, stats.SuccessRate)
	})

	t.Run("aggregates recorded runs", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		runs := []Run{
			{ID: "a", Status: "completed", ItemsScraped: 40, TotalItems: 50, CreatedAt: now, FinishedAt: now},
			{ID: "b", Status: "completed", ItemsScraped: 10, TotalItems: 10, CreatedAt: now, FinishedAt: now},
			{ID: "c", Status: "error", ItemsScraped: 5, TotalItems: 30, ErrorCount: 2, CreatedAt: now, FinishedAt: now},
		}
		for _, run := range runs {
			require.NoError(t, store.RecordRun(ctx, run))
		}

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalRuns)
		assert.Equal(t, 2, stats.CompletedRuns)
		assert.Equal(t, 1, stats.FailedRuns)
		assert.Equal(t, 55, stats.TotalItemsScraped)
		assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	})

	t.Run("re-recording a run replaces it", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()

		require.NoError(t, store.RecordRun(ctx, Run{ID: "a", Status: "error", CreatedAt: now, FinishedAt: now}))
		require.NoError(t, store.RecordRun(ctx, Run{ID: "a", Status: "completed", ItemsScraped: 3, CreatedAt: now, FinishedAt: now}))

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalRuns)
		assert.Equal(t, 1, stats.CompletedRuns)
		assert.Zero(t, stats.FailedRuns)
	})
}
