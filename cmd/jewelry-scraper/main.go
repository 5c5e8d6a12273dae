package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/jewelry-scraper/internal/api"
	"github.com/maltedev/jewelry-scraper/internal/browser"
	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/dataset"
	"github.com/maltedev/jewelry-scraper/internal/events"
	"github.com/maltedev/jewelry-scraper/internal/fetch"
	"github.com/maltedev/jewelry-scraper/internal/harvest"
	"github.com/maltedev/jewelry-scraper/internal/history"
	"github.com/maltedev/jewelry-scraper/internal/identity"
	"github.com/maltedev/jewelry-scraper/internal/scraper"
	"github.com/maltedev/jewelry-scraper/internal/tasks"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Category registry
	registry, err := config.LoadRegistry(cfg.Storage.CategoriesPath)
	if err != nil {
		logger.Error("failed to load category registry", "error", err)
		os.Exit(1)
	}

	// Run history: Postgres when configured, in-memory otherwise
	var historyStore history.Store
	if cfg.Database.Host != "" {
		pgStore, err := history.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		historyStore = pgStore
	} else {
		logger.Info("no database configured, run history is in-memory")
		historyStore = history.NewMemoryStore()
	}

	// Event publishing: optional, enabled when Redis is configured
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}
	publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, logger)

	// Browser setup
	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	// Harvest storage
	store, err := harvest.NewStore(cfg.Storage.HarvestDir, logger)
	if err != nil {
		logger.Error("failed to initialize harvest store", "error", err)
		os.Exit(1)
	}

	// Initialize services
	rotator := identity.NewRotator(cfg.Scraper.Proxies, cfg.Scraper.UserAgents)
	fetcher := fetch.NewPlaywrightFetcher(b, logger)
	worker := scraper.NewWorker(fetcher, rotator, store, cfg.Scraper, logger)
	builder := dataset.NewBuilder(store, cfg.Storage.DatasetDir, cfg.Dataset, logger)
	manager := tasks.NewManager(registry, worker, builder, historyStore, publisher, logger)
	defer manager.Close()

	// Initialize API handlers
	handlers := api.NewHandlers(manager, registry, store, cfg.Storage.DatasetDir, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	r.Get("/download/dataset/{type}", handlers.DownloadDataset)

	// API Routes
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

	// Start server
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.WriteTimeout * 2,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()
		manager.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
