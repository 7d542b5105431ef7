// Package main is the entrypoint for the clipforge API server.
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

	"github.com/kiranshivaraju/clipforge/internal/api"
	"github.com/kiranshivaraju/clipforge/internal/api/handler"
	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/cache"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/jobs"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/internal/transcoder"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "db_driver", cfg.Database.Driver,
		"s3_configured", cfg.S3.Configured(), "redis_configured", cfg.Redis.URL != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store and apply migrations
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Cache (optional)
	c, cachePinger, closeCache, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()

	// 4. Object storage (optional)
	objects, objectsPinger, err := openObjects(ctx, cfg.S3, c)
	if err != nil {
		return err
	}

	// 5. Transcoding engine, only usable with object storage
	var engine models.TranscodingEngine
	var prober models.Prober
	if objects != nil {
		ff := transcoder.NewFFmpeg(cfg.Transcoder, objects, cfg.S3.DownloadURLTTL)
		engine, prober = ff, ff
		slog.Info("transcoding engine ready", "engine", ff.Name(), "ffmpeg", cfg.Transcoder.FFmpegPath)
	}

	// 6. Job orchestration
	opts := jobs.Options{
		UploadURLTTL:   cfg.S3.UploadURLTTL,
		DownloadURLTTL: cfg.S3.DownloadURLTTL,
		JobCacheTTL:    cfg.Cache.JobTTL,
		ListCacheTTL:   cfg.Cache.ListTTL,
		StallTimeout:   cfg.Transcoder.StallTimeout,
	}
	orch := jobs.NewOrchestrator(st, objects, engine, prober, c, opts)
	query := jobs.NewQueryService(st, objects, c, opts)

	var watchdog *jobs.StallWatchdog
	if cfg.Transcoder.StallTimeout > 0 {
		watchdog, err = jobs.NewStallWatchdog(orch, cfg.Transcoder.SweepSchedule)
		if err != nil {
			return fmt.Errorf("stall watchdog: %w", err)
		}
		watchdog.Start()
		slog.Info("stall watchdog started", "timeout", cfg.Transcoder.StallTimeout,
			"schedule", cfg.Transcoder.SweepSchedule)
	}

	// 7. Build router with dependencies
	router := api.NewRouter(buildDependencies(st, c, cfg.Server.RateLimitPerMin, orch, query, map[string]handler.Pinger{
		"database":     st,
		"cache":        cachePinger,
		"object_store": objectsPinger,
	}))

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop taking requests, stop sweeping, then let
	// in-flight transcodes record their outcome.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if watchdog != nil {
		watchdog.Stop(shutdownCtx)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("transcodes did not drain", "error", err, "active", orch.Active())
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

func buildDependencies(keys mw.KeyStore, c cache.Cache, ratePerMin int, orch *jobs.Orchestrator, query *jobs.QueryService, health map[string]handler.Pinger) api.Dependencies {
	h := handler.NewJobs(orch, query)
	return api.Dependencies{
		Auth:      mw.NewAuth(keys),
		RateLimit: mw.NewRateLimit(c, ratePerMin),

		HealthHandler:         handler.NewHealthHandler(health),
		UploadURLHandler:      h.UploadURL,
		UploadCompleteHandler: h.UploadComplete,
		ListJobsHandler:       h.List,
		GetJobHandler:         h.Get,
		DownloadURLHandler:    h.DownloadURL,
		RerunJobHandler:       h.Rerun,
		DeleteJobHandler:      h.Delete,
		ListAllJobsHandler:    h.ListAll,
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	return store.Open(ctx, cfg, migrationsDir)
}

// openCache returns Redis when configured and a no-op cache otherwise. The
// pinger is nil when caching is disabled.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, handler.Pinger, func(), error) {
	if cfg.URL == "" {
		slog.Warn("REDIS_URL not set, caching and rate limiting disabled")
		return cache.NopCache{}, nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, rc, func() { _ = rc.Close() }, nil
}

// openObjects returns a nil Store when S3 is not configured; upload
// operations then report NOT_CONFIGURED.
func openObjects(ctx context.Context, cfg config.S3Config, c cache.Cache) (objectstore.Store, handler.Pinger, error) {
	if !cfg.Configured() {
		slog.Warn("S3_BUCKET_NAME not set, uploads and transcoding disabled")
		return nil, nil, nil
	}
	s3, err := objectstore.NewS3Store(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create s3 store: %w", err)
	}
	if cfg.Endpoint != "" {
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure bucket: %w", err)
		}
	}
	slog.Info("object store ready", "bucket", s3.Bucket(), "endpoint", cfg.Endpoint)
	return objectstore.NewCachedStore(s3, c), s3, nil
}
