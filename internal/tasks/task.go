// Package tasks owns the scraping task lifecycle: a task moves from
// pending to running and ends in completed or error, with at most one
// task active at a time. Clients poll task snapshots over the API.
package tasks

import (
	"errors"
	"time"

	"github.com/maltedev/jewelry-scraper/internal/dataset"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	// ErrAlreadyRunning is returned when a start request arrives while
	// another task is still pending or running.
	ErrAlreadyRunning = errors.New("a task is already running")

	// ErrInvalidSelection is returned when a requested category or
	// subcategory is not in the registry.
	ErrInvalidSelection = errors.New("invalid category selection")

	// ErrTaskNotFound is returned for snapshot requests with an unknown id.
	ErrTaskNotFound = errors.New("task not found")
)

// CategorySelection names one main category and the subcategories to scrape
// under it. An empty subcategory list means every registered subcategory.
type CategorySelection struct {
	MainCategory  string   `json:"main_category"`
	Subcategories []string `json:"subcategories,omitempty"`
}

// Task is the progress record for one run. All fields are guarded by the
// manager's lock; handlers only ever see copies made by snapshot.
type Task struct {
	ID                 string               `json:"id"`
	Status             Status               `json:"status"`
	SelectedCategories []CategorySelection  `json:"selected_categories,omitempty"`
	CurrentCategory    string               `json:"current_category,omitempty"`
	CurrentSubcategory string               `json:"current_subcategory,omitempty"`
	ItemsFound         int                  `json:"items_found"`
	ItemsScraped       int                  `json:"items_scraped"`
	TotalItems         int                  `json:"total_items"`
	Errors             []string             `json:"errors,omitempty"`
	ResNetStats        *dataset.ResNetStats `json:"resnet_stats,omitempty"`
	LLaVAStats         *dataset.LLaVAStats  `json:"llava_stats,omitempty"`
	Error              string               `json:"error,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	LastUpdate         time.Time            `json:"last_update"`
}

// snapshot returns a copy safe to hand outside the manager's lock.
func (t *Task) snapshot() Task {
	out := *t

	out.SelectedCategories = append([]CategorySelection(nil), t.SelectedCategories...)
	out.Errors = append([]string(nil), t.Errors...)

	if t.ResNetStats != nil {
		rs := *t.ResNetStats
		rs.ClassDistribution = make(map[string]int, len(t.ResNetStats.ClassDistribution))
		for k, v := range t.ResNetStats.ClassDistribution {
			rs.ClassDistribution[k] = v
		}
		out.ResNetStats = &rs
	}
	if t.LLaVAStats != nil {
		ls := *t.LLaVAStats
		out.LLaVAStats = &ls
	}

	return out
}
