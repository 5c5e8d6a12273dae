// Package api exposes the HTTP surface: starting scrape runs, polling
// task progress, triggering dataset builds and managing the category
// registry.
package api

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/harvest"
	"github.com/maltedev/jewelry-scraper/internal/tasks"
)

type Handlers struct {
	manager    *tasks.Manager
	registry   *config.Registry
	store      *harvest.Store
	datasetDir string
	logger     *slog.Logger
}

func NewHandlers(manager *tasks.Manager, registry *config.Registry, store *harvest.Store, datasetDir string, logger *slog.Logger) *Handlers {
	return &Handlers{
		manager:    manager,
		registry:   registry,
		store:      store,
		datasetDir: datasetDir,
		logger:     logger,
	}
}

// StartScrapeRequest selects the categories for a new run.
type StartScrapeRequest struct {
	Categories []tasks.CategorySelection `json:"categories"`
}

// StartTaskResponse returns the id clients poll for progress.
type StartTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StartScrape launches a new scraping task.
func (h *Handlers) StartScrape(w http.ResponseWriter, r *http.Request) {
	var req StartScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	taskID, err := h.manager.Start(req.Categories)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrAlreadyRunning):
			h.respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, tasks.ErrInvalidSelection):
			h.respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to start task", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to start task")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, StartTaskResponse{
		TaskID: taskID,
		Status: string(tasks.StatusPending),
	})
}

// GetTask returns a snapshot of one task's progress.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	task, err := h.manager.Snapshot(taskID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}

	h.respondJSON(w, http.StatusOK, task)
}

// BuildDatasets launches a standalone dataset build over the current harvest.
func (h *Handlers) BuildDatasets(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.manager.BuildDatasets()
	if err != nil {
		if errors.Is(err, tasks.ErrAlreadyRunning) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to start dataset build", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start dataset build")
		return
	}

	h.respondJSON(w, http.StatusAccepted, StartTaskResponse{
		TaskID: taskID,
		Status: string(tasks.StatusPending),
	})
}

// StatsResponse combines run history with the state of the harvest on disk.
type StatsResponse struct {
	Runs    interface{} `json:"runs"`
	Harvest interface{} `json:"harvest"`
}

// GetStats returns aggregate run and harvest statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	runStats, err := h.manager.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get run stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	harvestStats, err := h.store.Stats()
	if err != nil {
		h.logger.Error("failed to get harvest stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, StatsResponse{
		Runs:    runStats,
		Harvest: harvestStats,
	})
}

// GetCategories returns the full category registry.
func (h *Handlers) GetCategories(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.registry.Categories())
}

// UpdateCategoryRequest carries the replacement subcategory list.
type UpdateCategoryRequest struct {
	Subcategories []string `json:"subcategories"`
}

// UpdateCategory creates or replaces one main category's subcategories.
func (h *Handlers) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "category name is required")
		return
	}

	var req UpdateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Subcategories) == 0 {
		h.respondError(w, http.StatusBadRequest, "at least one subcategory is required")
		return
	}

	if err := h.registry.Update(name, req.Subcategories); err != nil {
		h.logger.Error("failed to update category", "category", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update category")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string][]string{name: req.Subcategories})
}

// DeleteCategory removes a main category from the registry.
func (h *Handlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "category name is required")
		return
	}

	if err := h.registry.Remove(name); err != nil {
		h.logger.Error("failed to remove category", "category", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to remove category")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DownloadDataset streams one built dataset package as a zip archive. The
// type parameter names the package: "resnet" or "llava".
func (h *Handlers) DownloadDataset(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "type")
	if kind != "resnet" && kind != "llava" {
		h.respondError(w, http.StatusBadRequest, "dataset type must be resnet or llava")
		return
	}

	root := filepath.Join(h.datasetDir, kind)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		h.respondError(w, http.StatusNotFound, "dataset not built yet")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_dataset.zip", kind))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.ToSlash(filepath.Join(kind, rel)))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		// Headers are already out; all we can do is truncate the archive.
		h.logger.Error("failed to stream dataset archive", "type", kind, "error", err)
		return
	}
	if err := zw.Close(); err != nil {
		h.logger.Error("failed to finalize dataset archive", "type", kind, "error", err)
	}
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
