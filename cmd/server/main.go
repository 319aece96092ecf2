// Package main is the entrypoint for the CookieHunter API server.
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

	"github.com/kiranshivaraju/cookiehunter/internal/api"
	"github.com/kiranshivaraju/cookiehunter/internal/api/handler"
	mw "github.com/kiranshivaraju/cookiehunter/internal/api/middleware"
	"github.com/kiranshivaraju/cookiehunter/internal/api/response"
	"github.com/kiranshivaraju/cookiehunter/internal/cache"
	"github.com/kiranshivaraju/cookiehunter/internal/catalog"
	"github.com/kiranshivaraju/cookiehunter/internal/config"
	"github.com/kiranshivaraju/cookiehunter/internal/enumerate"
	"github.com/kiranshivaraju/cookiehunter/internal/fetch"
	"github.com/kiranshivaraju/cookiehunter/internal/scanner"
	"github.com/kiranshivaraju/cookiehunter/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config and catalog; fail fast when either is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"batch_size", cfg.Scan.BatchSize,
		"max_pages", cfg.Scan.MaxPages,
		"keep_records", cfg.Scan.KeepRecords,
	)

	cat, err := catalog.Load(cfg.Server.CatalogFile)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations and seed categories
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)
	if err := pgStore.SeedCategories(ctx, cat.Categories()); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

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

	// 5. Build the scanner
	limiter := fetch.NewHostLimiter(cfg.Fetch.RatePerSec, cfg.Fetch.Burst)
	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		Limiter:   limiter,
	}, cat)
	enumerator := enumerate.NewSiteEnumerator(enumerate.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		Limiter:   limiter,
	})
	svc := scanner.New(pgStore, enumerator, fetcher, cat, scanner.Config{
		BatchSize:        cfg.Scan.BatchSize,
		MaxPages:         cfg.Scan.MaxPages,
		KeepRecords:      cfg.Scan.KeepRecords,
		FetchConcurrency: cfg.Fetch.Concurrency,
	})

	// 6. Build router with dependencies
	lc := handler.LockConfig{Locker: redisCache, TTL: cfg.Scan.LockTTL}
	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:  healthHandler(pgStore, redisCache),
		ScannerStatus:  handler.NewScannerStatusHandler(svc),
		StartScan:      handler.NewStartScanHandler(svc, lc),
		LastScan:       handler.NewLastScanHandler(svc),
		Progress:       handler.NewProgressHandler(svc),
		AdvanceScan:    handler.NewAdvanceScanHandler(svc, lc),
		StopScan:       handler.NewStopScanHandler(svc, lc),
		ListURLs:       handler.NewListURLsHandler(svc),
		ListCookies:    handler.NewListCookiesHandler(svc),
		Reset:          handler.NewResetHandler(svc, lc),
		MergedCookies:  handler.NewMergedCookiesHandler(svc),
		ListCategories: handler.NewCategoriesHandler(svc),
	})

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is satisfied by the store and the cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("database ping failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
