package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/dataset"
	"github.com/maltedev/jewelry-scraper/internal/events"
	"github.com/maltedev/jewelry-scraper/internal/history"
)

// ProgressSink receives incremental progress from a scrape worker. All
// methods are safe for concurrent use.
type ProgressSink interface {
	// SetCurrent records which category pair the worker is on.
	SetCurrent(mainCategory, subcategory string)
	// AddFound adds listings discovered on a results page.
	AddFound(n int)
	// AddScraped adds items fully harvested (image plus metadata).
	AddScraped(n int)
	// AddTotal grows the expected item count. Never called with a value
	// that would let scraped exceed the total.
	AddTotal(n int)
	// ReportError appends a non-fatal error to the task's error log.
	ReportError(msg string)
}

// Harvester scrapes one subcategory, reporting progress to the sink. A
// returned error is fatal to the whole run; recoverable failures are
// reported through the sink instead.
type Harvester interface {
	ScrapeSubcategory(ctx context.Context, mainCategory, subcategory string, sink ProgressSink) error
}

// DatasetBuilder packages the harvest into the training datasets.
type DatasetBuilder interface {
	Build(ctx context.Context) (*dataset.Result, error)
}

// EventPublisher emits task lifecycle events. A nil publisher disables
// event publishing.
type EventPublisher interface {
	Publish(ctx context.Context, event events.TaskEvent) error
}

// Manager enforces the single-active-task rule and owns all task state.
type Manager struct {
	registry  *config.Registry
	harvester Harvester
	builder   DatasetBuilder
	history   history.Store
	events    EventPublisher
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	tasks    map[string]*Task
	activeID string
}

func NewManager(registry *config.Registry, harvester Harvester, builder DatasetBuilder, hist history.Store, pub EventPublisher, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:  registry,
		harvester: harvester,
		builder:   builder,
		history:   hist,
		events:    pub,
		logger:    logger.With("component", "task_manager"),
		baseCtx:   ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
	}
}

// Close cancels any running task. In-flight work observes the cancellation
// through its context and finishes with an error status.
func (m *Manager) Close() {
	m.cancel()
}

// Start validates the selection, creates a pending task and launches the
// scrape run in the background. It returns the new task id immediately.
func (m *Manager) Start(selections []CategorySelection) (string, error) {
	pairs, err := m.expandSelections(selections)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return "", ErrAlreadyRunning
	}

	task := m.newTaskLocked(selections)
	go m.run(task.ID, pairs)

	return task.ID, nil
}

// BuildDatasets launches a standalone dataset build over the existing
// harvest, without any scraping. The same single-active-task rule applies.
func (m *Manager) BuildDatasets() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeLocked() {
		return "", ErrAlreadyRunning
	}

	task := m.newTaskLocked(nil)
	go m.runBuild(task.ID)

	return task.ID, nil
}

// Snapshot returns a copy of the task's current state.
func (m *Manager) Snapshot(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task.snapshot(), nil
}

// Stats returns aggregate run statistics from the history store.
func (m *Manager) Stats(ctx context.Context) (*history.Stats, error) {
	return m.history.Stats(ctx)
}

type categoryPair struct {
	main string
	sub  string
}

func (m *Manager) expandSelections(selections []CategorySelection) ([]categoryPair, error) {
	if len(selections) == 0 {
		return nil, ErrInvalidSelection
	}

	var pairs []categoryPair
	for _, sel := range selections {
		subs := sel.Subcategories
		if len(subs) == 0 {
			registered, ok := m.registry.Subcategories(sel.MainCategory)
			if !ok {
				return nil, ErrInvalidSelection
			}
			subs = registered
		}
		for _, sub := range subs {
			if !m.registry.Contains(sel.MainCategory, sub) {
				return nil, ErrInvalidSelection
			}
			pairs = append(pairs, categoryPair{main: sel.MainCategory, sub: sub})
		}
	}

	return pairs, nil
}

func (m *Manager) activeLocked() bool {
	if m.activeID == "" {
		return false
	}
	task, ok := m.tasks[m.activeID]
	return ok && !task.Status.Terminal()
}

func (m *Manager) newTaskLocked(selections []CategorySelection) *Task {
	now := time.Now()
	task := &Task{
		ID:                 uuid.New().String(),
		Status:             StatusPending,
		SelectedCategories: selections,
		CreatedAt:          now,
		LastUpdate:         now,
	}
	m.tasks[task.ID] = task
	m.activeID = task.ID
	return task
}

func (m *Manager) run(taskID string, pairs []categoryPair) {
	m.transition(taskID, StatusRunning)
	m.publish(taskID, events.TaskStarted)

	for _, pair := range pairs {
		if m.baseCtx.Err() != nil {
			m.finish(taskID, StatusError, "task cancelled during shutdown")
			return
		}

		sink := &taskSink{manager: m, taskID: taskID}
		sink.SetCurrent(pair.main, pair.sub)

		if err := m.harvester.ScrapeSubcategory(m.baseCtx, pair.main, pair.sub, sink); err != nil {
			m.logger.Error("scrape run failed", "task_id", taskID, "category", pair.main, "subcategory", pair.sub, "error", err)
			m.finish(taskID, StatusError, err.Error())
			return
		}
	}

	m.buildAndFinish(taskID)
}

func (m *Manager) runBuild(taskID string) {
	m.transition(taskID, StatusRunning)
	m.publish(taskID, events.TaskStarted)
	m.buildAndFinish(taskID)
}

func (m *Manager) buildAndFinish(taskID string) {
	result, err := m.builder.Build(m.baseCtx)
	if err != nil {
		m.logger.Error("dataset build failed", "task_id", taskID, "error", err)
		m.finish(taskID, StatusError, "dataset build failed: "+err.Error())
		return
	}

	m.mu.Lock()
	if task, ok := m.tasks[taskID]; ok {
		task.ResNetStats = result.ResNet
		task.LLaVAStats = result.LLaVA
		task.Errors = append(task.Errors, result.Skipped...)
		task.LastUpdate = time.Now()
	}
	m.mu.Unlock()

	m.finish(taskID, StatusCompleted, "")
	// Published after the terminal transition so consumers see the final
	// status on the event.
	m.publish(taskID, events.DatasetsBuilt)
}

func (m *Manager) transition(taskID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[taskID]; ok {
		task.Status = status
		task.LastUpdate = time.Now()
	}
}

func (m *Manager) finish(taskID string, status Status, errMsg string) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	task.Status = status
	task.Error = errMsg
	// The task is idle now; the current-position pointers only mean
	// something while it is running.
	task.CurrentCategory = ""
	task.CurrentSubcategory = ""
	task.LastUpdate = time.Now()
	run := history.Run{
		ID:           task.ID,
		Status:       string(status),
		ItemsScraped: task.ItemsScraped,
		TotalItems:   task.TotalItems,
		ErrorCount:   len(task.Errors),
		CreatedAt:    task.CreatedAt,
		FinishedAt:   task.LastUpdate,
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.history.RecordRun(ctx, run); err != nil {
		m.logger.Warn("failed to record run history", "task_id", taskID, "error", err)
	}

	if status == StatusCompleted {
		m.publish(taskID, events.TaskCompleted)
	} else {
		m.publish(taskID, events.TaskFailed)
	}
}

func (m *Manager) publish(taskID string, eventType string) {
	if m.events == nil {
		return
	}

	m.mu.RLock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	event := events.TaskEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		TaskID:       task.ID,
		Status:       string(task.Status),
		ItemsScraped: task.ItemsScraped,
		Error:        task.Error,
		Timestamp:    time.Now(),
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish task event", "task_id", taskID, "event", eventType, "error", err)
	}
}

// taskSink routes worker progress into one task's record.
type taskSink struct {
	manager *Manager
	taskID  string
}

func (s *taskSink) update(fn func(t *Task)) {
	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()
	if task, ok := s.manager.tasks[s.taskID]; ok {
		fn(task)
		task.LastUpdate = time.Now()
	}
}

func (s *taskSink) SetCurrent(mainCategory, subcategory string) {
	s.update(func(t *Task) {
		t.CurrentCategory = mainCategory
		t.CurrentSubcategory = subcategory
	})
}

func (s *taskSink) AddFound(n int) {
	s.update(func(t *Task) { t.ItemsFound += n })
}

func (s *taskSink) AddScraped(n int) {
	s.update(func(t *Task) { t.ItemsScraped += n })
}

func (s *taskSink) AddTotal(n int) {
	s.update(func(t *Task) { t.TotalItems += n })
}

func (s *taskSink) ReportError(msg string) {
	s.update(func(t *Task) { t.Errors = append(t.Errors, msg) })
}
