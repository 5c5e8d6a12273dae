package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/dataset"
	"github.com/maltedev/jewelry-scraper/internal/events"
	"github.com/maltedev/jewelry-scraper/internal/history"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubHarvester scripts per-subcategory behavior.
type stubHarvester struct {
	scrape func(ctx context.Context, main, sub string, sink ProgressSink) error
}

func (h *stubHarvester) ScrapeSubcategory(ctx context.Context, main, sub string, sink ProgressSink) error {
	if h.scrape == nil {
		return nil
	}
	return h.scrape(ctx, main, sub, sink)
}

// stubBuilder scripts the dataset build outcome.
type stubBuilder struct {
	build func(ctx context.Context) (*dataset.Result, error)
}

func (b *stubBuilder) Build(ctx context.Context) (*dataset.Result, error) {
	if b.build == nil {
		return &dataset.Result{
			ResNet: &dataset.ResNetStats{TotalSamples: 1, ClassDistribution: map[string]int{}},
			LLaVA:  &dataset.LLaVAStats{TotalSamples: 1},
		}, nil
	}
	return b.build(ctx)
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TaskEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []events.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.TaskEvent(nil), p.events...)
}

func newTestManager(t *testing.T, h Harvester, b DatasetBuilder) *Manager {
	t.Helper()
	registry, err := config.LoadRegistry("")
	require.NoError(t, err)

	m := NewManager(registry, h, b, history.NewMemoryStore(), nil, testLogger())
	t.Cleanup(m.Close)
	return m
}

func waitForTerminal(t *testing.T, m *Manager, taskID string) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = m.Snapshot(taskID)
		require.NoError(t, err)
		return task.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

func TestManager_Start(t *testing.T) {
	t.Run("successful run completes with stats", func(t *testing.T) {
		harvester := &stubHarvester{
			scrape: func(_ context.Context, main, sub string, sink ProgressSink) error {
				sink.AddFound(4)
				sink.AddTotal(3)
				sink.AddScraped(3)
				return nil
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{
			{MainCategory: "ring", Subcategories: []string{"Wedding", "Fashion"}},
		})
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.Equal(t, 8, task.ItemsFound)
		assert.Equal(t, 6, task.TotalItems)
		assert.Equal(t, 6, task.ItemsScraped)
		assert.LessOrEqual(t, task.ItemsScraped, task.TotalItems)
		require.NotNil(t, task.ResNetStats)
		require.NotNil(t, task.LLaVAStats)
		assert.Empty(t, task.Error)
	})

	t.Run("empty subcategory list expands to the whole category", func(t *testing.T) {
		var seen []string
		harvester := &stubHarvester{
			scrape: func(_ context.Context, main, sub string, sink ProgressSink) error {
				seen = append(seen, main+"/"+sub)
				return nil
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{{MainCategory: "pendant"}})
		require.NoError(t, err)
		waitForTerminal(t, m, taskID)

		assert.ElementsMatch(t, []string{"pendant/Heart", "pendant/Cross", "pendant/Star"}, seen)
	})

	t.Run("terminal tasks clear the current position", func(t *testing.T) {
		harvester := &stubHarvester{
			scrape: func(_ context.Context, main, sub string, sink ProgressSink) error {
				sink.AddScraped(1)
				return nil
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Empty(t, task.CurrentCategory)
		assert.Empty(t, task.CurrentSubcategory)
	})

	t.Run("rejects concurrent tasks", func(t *testing.T) {
		release := make(chan struct{})
		harvester := &stubHarvester{
			scrape: func(ctx context.Context, _, _ string, _ ProgressSink) error {
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)

		_, err = m.Start([]CategorySelection{{MainCategory: "earring", Subcategories: []string{"Stud"}}})
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		_, err = m.BuildDatasets()
		assert.ErrorIs(t, err, ErrAlreadyRunning)

		close(release)
		waitForTerminal(t, m, taskID)

		// a finished task frees the slot
		_, err = m.Start([]CategorySelection{{MainCategory: "earring", Subcategories: []string{"Stud"}}})
		assert.NoError(t, err)
	})

	t.Run("rejects invalid selections", func(t *testing.T) {
		m := newTestManager(t, &stubHarvester{}, &stubBuilder{})

		tests := []struct {
			name       string
			selections []CategorySelection
		}{
			{"empty selection", nil},
			{"unknown main category", []CategorySelection{{MainCategory: "tiara"}}},
			{"unknown subcategory", []CategorySelection{{MainCategory: "ring", Subcategories: []string{"Choker"}}}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := m.Start(tt.selections)
				assert.ErrorIs(t, err, ErrInvalidSelection)
			})
		}
	})

	t.Run("fatal harvester error fails the task", func(t *testing.T) {
		harvester := &stubHarvester{
			scrape: func(context.Context, string, string, ProgressSink) error {
				return errors.New("browser session lost")
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Equal(t, StatusError, task.Status)
		assert.Contains(t, task.Error, "browser session lost")
		assert.Nil(t, task.ResNetStats)
	})

	t.Run("builder failure fails the task", func(t *testing.T) {
		builder := &stubBuilder{
			build: func(context.Context) (*dataset.Result, error) {
				return nil, errors.New("disk full")
			},
		}
		m := newTestManager(t, &stubHarvester{}, builder)

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Equal(t, StatusError, task.Status)
		assert.Contains(t, task.Error, "disk full")
	})

	t.Run("skipped images surface in the task error log", func(t *testing.T) {
		builder := &stubBuilder{
			build: func(context.Context) (*dataset.Result, error) {
				return &dataset.Result{
					ResNet:  &dataset.ResNetStats{TotalSamples: 2},
					LLaVA:   &dataset.LLaVAStats{TotalSamples: 2},
					Skipped: []string{"undecodable image a.jpg"},
				}, nil
			},
		}
		m := newTestManager(t, &stubHarvester{}, builder)

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Equal(t, StatusCompleted, task.Status)
		require.Len(t, task.Errors, 1)
		assert.Contains(t, task.Errors[0], "undecodable")
	})
}

func TestManager_BuildDatasets(t *testing.T) {
	t.Run("standalone build completes without scraping", func(t *testing.T) {
		scraped := false
		harvester := &stubHarvester{
			scrape: func(context.Context, string, string, ProgressSink) error {
				scraped = true
				return nil
			},
		}
		m := newTestManager(t, harvester, &stubBuilder{})

		taskID, err := m.BuildDatasets()
		require.NoError(t, err)

		task := waitForTerminal(t, m, taskID)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.False(t, scraped)
		assert.NotNil(t, task.ResNetStats)
	})
}

func TestManager_Snapshot(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		m := newTestManager(t, &stubHarvester{}, &stubBuilder{})
		_, err := m.Snapshot("no-such-task")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		m := newTestManager(t, &stubHarvester{}, &stubBuilder{})

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)
		task := waitForTerminal(t, m, taskID)

		task.Errors = append(task.Errors, "mutated")
		again, err := m.Snapshot(taskID)
		require.NoError(t, err)
		assert.NotContains(t, again.Errors, "mutated")
	})
}

func TestManager_Events(t *testing.T) {
	t.Run("lifecycle events carry the final status", func(t *testing.T) {
		registry, err := config.LoadRegistry("")
		require.NoError(t, err)

		pub := &recordingPublisher{}
		m := NewManager(registry, &stubHarvester{}, &stubBuilder{}, history.NewMemoryStore(), pub, testLogger())
		t.Cleanup(m.Close)

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)
		waitForTerminal(t, m, taskID)

		var published []events.TaskEvent
		require.Eventually(t, func() bool {
			published = pub.snapshot()
			return len(published) == 3
		}, 5*time.Second, 5*time.Millisecond)

		assert.Equal(t, events.TaskStarted, published[0].EventType)
		assert.Equal(t, events.TaskCompleted, published[1].EventType)
		assert.Equal(t, events.DatasetsBuilt, published[2].EventType)
		// the datasets-built event is emitted after the terminal transition
		assert.Equal(t, string(StatusCompleted), published[2].Status)
		for _, event := range published {
			assert.Equal(t, taskID, event.TaskID)
			assert.NotEmpty(t, event.EventID)
		}
	})

	t.Run("failed runs publish a failure event", func(t *testing.T) {
		registry, err := config.LoadRegistry("")
		require.NoError(t, err)

		pub := &recordingPublisher{}
		builder := &stubBuilder{
			build: func(context.Context) (*dataset.Result, error) {
				return nil, errors.New("disk full")
			},
		}
		m := NewManager(registry, &stubHarvester{}, builder, history.NewMemoryStore(), pub, testLogger())
		t.Cleanup(m.Close)

		taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
		require.NoError(t, err)
		waitForTerminal(t, m, taskID)

		var published []events.TaskEvent
		require.Eventually(t, func() bool {
			published = pub.snapshot()
			return len(published) == 2
		}, 5*time.Second, 5*time.Millisecond)

		assert.Equal(t, events.TaskFailed, published[1].EventType)
		assert.Equal(t, string(StatusError), published[1].Status)
		assert.Contains(t, published[1].Error, "disk full")
	})
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, &stubHarvester{}, &stubBuilder{})

	taskID, err := m.Start([]CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}})
	require.NoError(t, err)
	waitForTerminal(t, m, taskID)

	// history is recorded after the task turns terminal
	require.Eventually(t, func() bool {
		stats, err := m.Stats(context.Background())
		require.NoError(t, err)
		return stats.TotalRuns == 1
	}, 5*time.Second, 5*time.Millisecond)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedRuns)
	assert.Zero(t, stats.FailedRuns)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-9)
}
