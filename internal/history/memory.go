package history

import (
	"context"
	"sync"
)

// MemoryStore keeps runs in memory. Used when no database is configured;
// history is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

func (s *MemoryStore) RecordRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	for _, run := range s.runs {
		stats.TotalRuns++
		switch run.Status {
		case "completed":
			stats.CompletedRuns++
		case "error":
			stats.FailedRuns++
		}
		stats.TotalItemsScraped += run.ItemsScraped
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(stats.CompletedRuns) / float64(stats.TotalRuns)
	}
	return stats, nil
}
