// Package main is the entrypoint for the platewise API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/platewise/internal/analyzer"
	"github.com/kiranshivaraju/platewise/internal/api"
	"github.com/kiranshivaraju/platewise/internal/api/handler"
	mw "github.com/kiranshivaraju/platewise/internal/api/middleware"
	"github.com/kiranshivaraju/platewise/internal/api/response"
	"github.com/kiranshivaraju/platewise/internal/cache"
	"github.com/kiranshivaraju/platewise/internal/config"
	"github.com/kiranshivaraju/platewise/internal/imagestore"
	"github.com/kiranshivaraju/platewise/internal/relay"
	"github.com/kiranshivaraju/platewise/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "reason", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "analyzer", cfg.Analyzer.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to object storage
	images, err := imagestore.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	slog.Info("storage connected", "bucket", cfg.Storage.Bucket)

	// 6. Create store, analyzer client and relay
	pgStore := store.NewPostgresStore(pool)
	analyzerClient := analyzer.NewHTTPClient(cfg.Analyzer)
	streamRelay := relay.New(pgStore, slog.Default())

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:           mw.NewAuth(pgStore),
		RateLimit:      mw.NewRateLimit(redisCache, cfg.Redis.RequestsPerMinute),
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler: healthHandler(pgStore, redisCache, images),
		AnalyzeHandler: handler.NewAnalyzeHandler(handler.AnalyzeDeps{
			Meals:             pgStore,
			Images:            images,
			Locks:             redisCache,
			Analyzer:          analyzerClient,
			Relay:             streamRelay,
			MaxStreamDuration: cfg.Analyzer.MaxStreamDuration,
		}),
		UploadHandler: handler.NewUploadHandler(handler.UploadDeps{
			Meals:        pgStore,
			Images:       images,
			MaxImages:    cfg.Upload.MaxImages,
			MaxBytes:     cfg.Upload.MaxBytes,
			MaxDimension: cfg.Upload.MaxDimension,
		}),
		ListMealsHandler:  handler.NewListMealsHandler(pgStore, images),
		GetMealHandler:    handler.NewGetMealHandler(pgStore, images),
		DeleteMealHandler: handler.NewDeleteMealHandler(pgStore, images),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	// The analyze handler lifts the write deadline for its own streams.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is anything whose connectivity can be checked.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database, cache and object storage connectivity.
func healthHandler(db, c, storage pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"storage":  "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := storage.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
		}

		for _, status := range checks {
			if status != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
