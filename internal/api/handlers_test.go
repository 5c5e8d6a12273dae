package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/dataset"
	"github.com/maltedev/jewelry-scraper/internal/harvest"
	"github.com/maltedev/jewelry-scraper/internal/history"
	"github.com/maltedev/jewelry-scraper/internal/tasks"
)

type stubHarvester struct {
	block chan struct{}
}

func (h *stubHarvester) ScrapeSubcategory(ctx context.Context, _, _ string, sink tasks.ProgressSink) error {
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	sink.AddFound(2)
	sink.AddTotal(2)
	sink.AddScraped(2)
	return nil
}

type stubBuilder struct{}

func (stubBuilder) Build(context.Context) (*dataset.Result, error) {
	return &dataset.Result{
		ResNet: &dataset.ResNetStats{TotalSamples: 2},
		LLaVA:  &dataset.LLaVAStats{TotalSamples: 2},
	}, nil
}

type testEnv struct {
	router     chi.Router
	manager    *tasks.Manager
	datasetDir string
}

func newTestEnv(t *testing.T, harvester tasks.Harvester) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := config.LoadRegistry("")
	require.NoError(t, err)

	store, err := harvest.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	manager := tasks.NewManager(registry, harvester, stubBuilder{}, history.NewMemoryStore(), nil, logger)
	t.Cleanup(manager.Close)

	datasetDir := t.TempDir()
	handlers := NewHandlers(manager, registry, store, datasetDir, logger)

	r := chi.NewRouter()
	r.Get("/health", handlers.Health)
	r.Get("/download/dataset/{type}", handlers.DownloadDataset)
	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", handlers.StartScrape)
		r.Get("/tasks/{taskID}", handlers.GetTask)
		r.Post("/datasets", handlers.BuildDatasets)
		r.Get("/stats", handlers.GetStats)
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", handlers.GetCategories)
			r.Put("/{name}", handlers.UpdateCategory)
			r.Delete("/{name}", handlers.DeleteCategory)
		})
	})

	return &testEnv{router: r, manager: manager, datasetDir: datasetDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitForTerminal(t *testing.T, taskID string) tasks.Task {
	t.Helper()
	var task tasks.Task
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		return task.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

func TestStartScrape(t *testing.T) {
	t.Run("accepts a valid selection", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodPost, "/api/scrape", StartScrapeRequest{
			Categories: []tasks.CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp StartTaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.TaskID)

		task := env.waitForTerminal(t, resp.TaskID)
		assert.Equal(t, tasks.StatusCompleted, task.Status)
		assert.Equal(t, 2, task.ItemsScraped)
	})

	t.Run("rejects unknown categories", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodPost, "/api/scrape", StartScrapeRequest{
			Categories: []tasks.CategorySelection{{MainCategory: "tiara"}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		req := httptest.NewRequest(http.MethodPost, "/api/scrape", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("conflicts while a task is active", func(t *testing.T) {
		block := make(chan struct{})
		env := newTestEnv(t, &stubHarvester{block: block})

		rec := env.do(t, http.MethodPost, "/api/scrape", StartScrapeRequest{
			Categories: []tasks.CategorySelection{{MainCategory: "ring", Subcategories: []string{"Wedding"}}},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/scrape", StartScrapeRequest{
			Categories: []tasks.CategorySelection{{MainCategory: "earring", Subcategories: []string{"Stud"}}},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = env.do(t, http.MethodPost, "/api/datasets", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		close(block)
	})
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t, &stubHarvester{})

	rec := env.do(t, http.MethodGet, "/api/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildDatasets(t *testing.T) {
	env := newTestEnv(t, &stubHarvester{})

	rec := env.do(t, http.MethodPost, "/api/datasets", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp StartTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	task := env.waitForTerminal(t, resp.TaskID)
	assert.Equal(t, tasks.StatusCompleted, task.Status)
	require.NotNil(t, task.ResNetStats)
	assert.Equal(t, 2, task.ResNetStats.TotalSamples)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t, &stubHarvester{})

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs    history.Stats `json:"runs"`
		Harvest harvest.Stats `json:"harvest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Runs.TotalRuns)
	assert.Zero(t, resp.Harvest.TotalItems)
}

func TestCategories(t *testing.T) {
	t.Run("lists the registry", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodGet, "/api/categories/", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var categories map[string][]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &categories))
		assert.Contains(t, categories, "ring")
		assert.Contains(t, categories["pendant"], "Heart")
	})

	t.Run("updates a category", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodPut, "/api/categories/brooch", UpdateCategoryRequest{
			Subcategories: []string{"Vintage", "Enamel"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/categories/", nil)
		var categories map[string][]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &categories))
		assert.Equal(t, []string{"Vintage", "Enamel"}, categories["brooch"])
	})

	t.Run("rejects empty subcategory lists", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodPut, "/api/categories/brooch", UpdateCategoryRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deletes a category", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodDelete, "/api/categories/ring", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/categories/", nil)
		var categories map[string][]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &categories))
		assert.NotContains(t, categories, "ring")
	})
}

func TestDownloadDataset(t *testing.T) {
	t.Run("serves a built package as a zip archive", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		classDir := filepath.Join(env.datasetDir, "resnet", "train", "ring")
		require.NoError(t, os.MkdirAll(classDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(classDir, "ring0.jpg"), []byte("jpeg bytes"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(env.datasetDir, "resnet", "train", "labels.csv"), []byte("image_path,category,subcategory\n"), 0644))

		rec := env.do(t, http.MethodGet, "/download/dataset/resnet", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "resnet_dataset.zip")

		zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
		require.NoError(t, err)

		names := make([]string, 0, len(zr.File))
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{
			"resnet/train/ring/ring0.jpg",
			"resnet/train/labels.csv",
		}, names)
	})

	t.Run("rejects unknown dataset types", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodGet, "/download/dataset/bert", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing package is not found", func(t *testing.T) {
		env := newTestEnv(t, &stubHarvester{})

		rec := env.do(t, http.MethodGet, "/download/dataset/llava", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubHarvester{})

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
