// Package main implements the entry point for the taskstation server,
// an asynchronous task execution service with priority scheduling,
// retries, rate limiting, and result caching.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkessler/taskstation/internal/api"
	"github.com/mkessler/taskstation/internal/cache"
	"github.com/mkessler/taskstation/internal/config"
	"github.com/mkessler/taskstation/internal/platform/logger"
	"github.com/mkessler/taskstation/internal/ratelimit"
	"github.com/mkessler/taskstation/internal/retry"
	"github.com/mkessler/taskstation/internal/service"
	"github.com/mkessler/taskstation/internal/store"
	"github.com/mkessler/taskstation/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Failed to start taskstation: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_workers", cfg.Task.MaxWorkers,
		"queue_size", cfg.Task.QueueSize,
		"cold_storage", cfg.Task.EnableColdStorage,
		"rate_limit", cfg.RateLimit.Enabled)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Task registry with the built-in handlers.
	registry := task.NewRegistry(appLogger)
	registerBuiltins(registry)

	// Result cache, overflowing to Redis when configured.
	results, err := buildResultCache(rootCtx, cfg, appLogger)
	if err != nil {
		return err
	}
	results.StartSweeper(rootCtx, cfg.Task.CleanupInterval)

	backoff := retry.Policy{
		MaxAttempts: cfg.Task.RetryAttempts + 1,
		BaseDelay:   cfg.Task.RetryDelay,
		Multiplier:  2.0,
		MaxDelay:    time.Minute,
		Jitter:      true,
	}

	scheduler := task.NewScheduler(task.SchedulerConfig{
		MaxWorkers:        cfg.Task.MaxWorkers,
		QueueSize:         cfg.Task.QueueSize,
		DefaultTimeout:    cfg.Task.DefaultTimeout,
		DefaultMaxRetries: cfg.Task.RetryAttempts,
		PollInterval:      cfg.Task.SchedulerInterval,
		CleanupInterval:   cfg.Task.CleanupInterval,
		MaxHistoryAge:     cfg.Task.MaxHistoryAge,
		ResultTTL:         cfg.Task.ResultCacheTTL,
	}, registry, results, task.IDKey, backoff, appLogger)

	callbacks := task.NewCallbackManager(appLogger)
	scheduler.SetCallbacks(callbacks)
	scheduler.Start()

	// Submission middleware stack: rate limiting outermost, then the
	// circuit-breaking retry layer, then the scheduler.
	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
		Algorithm:         ratelimit.Algorithm(cfg.RateLimit.Algorithm),
	})
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}
	startLimiterGC(rootCtx, limiter, cfg.Task.CleanupInterval)

	breaker := retry.NewCircuitBreaker(5, 30*time.Second)
	submitPolicy := retry.Policy{
		MaxAttempts: 1,
		BaseDelay:   cfg.Task.RetryDelay,
		Multiplier:  1,
		RetryIf: func(err error) bool {
			// Submission rejections are reported to the caller, not
			// retried server-side.
			return !errors.Is(err, task.ErrQueueFull) && !errors.Is(err, task.ErrHandlerNotFound)
		},
	}
	orchestrator := retry.NewOrchestrator(submitPolicy, breaker, appLogger)

	svc := service.NewTaskService(scheduler, registry, results, appLogger,
		service.RateLimitMiddleware(limiter, appLogger),
		service.RetryMiddleware(orchestrator),
	)

	router := api.NewRouter(api.NewTaskHandler(svc, appLogger), appLogger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown failed", "error", err)
	}
	if err := callbacks.Drain(shutdownCtx); err != nil {
		slog.Error("callback drain interrupted", "error", err)
	}

	slog.Info("taskstation stopped")
	return nil
}

// buildResultCache assembles the result cache, backed by Redis cold
// storage when enabled and reachable.
func buildResultCache(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (*cache.Cache, error) {
	var cold store.BlobStore
	if cfg.Task.EnableColdStorage {
		if cfg.Redis.Addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			rs := store.NewRedisBlobStore(client, cfg.Task.ResultCacheTTL, appLogger)

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := rs.Ping(pingCtx); err != nil {
				return nil, fmt.Errorf("failed to reach Redis at %s: %w", cfg.Redis.Addr, err)
			}
			cold = rs
			slog.Info("cold storage enabled", "backend", "redis", "addr", cfg.Redis.Addr)
		} else {
			cold = store.NewMemoryBlobStore()
			slog.Info("cold storage enabled", "backend", "memory")
		}
	}

	return cache.New(cache.Config{
		MaxEntries:            cfg.Task.ResultCacheSize,
		DefaultTTL:            cfg.Task.ResultCacheTTL,
		PersistThresholdBytes: cfg.Task.PersistThresholdKB * 1024,
		PersistLongTasks:      cfg.Task.PersistLongTasks,
		LongTaskThreshold:     cfg.Task.LongTaskThreshold,
	}, cold, appLogger)
}

// startLimiterGC periodically drops idle per-client limiter state.
func startLimiterGC(ctx context.Context, limiter ratelimit.Limiter, interval time.Duration) {
	type cleaner interface {
		CleanupIdle(maxIdle time.Duration) int
	}
	c, ok := limiter.(cleaner)
	if !ok {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupIdle(time.Hour); removed > 0 {
					slog.Debug("dropped idle rate limiter keys", "removed", removed)
				}
			}
		}
	}()
}

// registerBuiltins installs the handlers every deployment ships with.
// Real deployments register their own alongside these.
func registerBuiltins(registry *task.Registry) {
	// echo returns its params unchanged; useful for smoke tests.
	mustRegister(registry, "echo", task.HandlerFunc(func(_ context.Context, params map[string]any) (any, error) {
		return params, nil
	}))

	// sleep waits for duration_ms, honoring cancellation.
	mustRegister(registry, "sleep", task.HandlerFunc(func(ctx context.Context, params map[string]any) (any, error) {
		ms, _ := params["duration_ms"].(float64)
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return map[string]any{"slept_ms": ms}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	// fail always errors; useful for exercising retry and breaker paths.
	mustRegister(registry, "fail", task.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("handler configured to fail")
	}))
}

func mustRegister(registry *task.Registry, name string, h task.Handler) {
	if err := registry.Register(name, h); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register %s: %v\n", name, err)
		os.Exit(1)
	}
}
