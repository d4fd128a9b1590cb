// Package main implements the entry point for the pipeline API server:
// the asynchronous task-processing pipeline, its websocket notification
// hub, and the HTTP surface around them.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/taskforge/pipeline-api/internal/api"
	"github.com/taskforge/pipeline-api/internal/auth"
	"github.com/taskforge/pipeline-api/internal/config"
	"github.com/taskforge/pipeline-api/internal/dispatch"
	"github.com/taskforge/pipeline-api/internal/hub"
	"github.com/taskforge/pipeline-api/internal/platform/gemini"
	"github.com/taskforge/pipeline-api/internal/platform/logger"
	"github.com/taskforge/pipeline-api/internal/platform/postgres"
	"github.com/taskforge/pipeline-api/internal/progress"
	"github.com/taskforge/pipeline-api/internal/queue"
	"github.com/taskforge/pipeline-api/internal/service"
	"github.com/taskforge/pipeline-api/internal/stage"
	"github.com/taskforge/pipeline-api/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
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
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	// Root context: cancelled on SIGINT/SIGTERM. Background loops stop
	// scheduling new work; in-flight work drains before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := setupDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := runMigrations(db, appLogger); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	appLogger.Info("redis connection established", "addr", cfg.Redis.Addr)

	// Background loops are joined before run returns: shutdown stops
	// them from scheduling new work, then waits for in-flight work to
	// drain so a claimed item is never abandoned mid-stage.
	var background sync.WaitGroup

	workQueue := queue.NewRedisQueue(rdb, queue.RedisOptions{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
	}, appLogger)
	background.Add(1)
	go func() {
		defer background.Done()
		workQueue.RunRedelivery(ctx)
	}()

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	notificationHub := hub.New(cfg.Hub, verifier, appLogger)
	background.Add(1)
	go func() {
		defer background.Done()
		notificationHub.Run(ctx)
	}()

	reporter := progress.NewReporter(notificationHub, appLogger)

	generator, err := gemini.NewGenerator(ctx, appLogger, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	handlers := stage.NewRegistry(taskStore, generator, reporter, appLogger)

	dispatcher := dispatch.New(workQueue, handlers, taskStore, reporter, dispatch.Config{
		PollInterval: cfg.Queue.PollInterval,
		StageTimeout: cfg.Queue.StageTimeout,
	}, appLogger)
	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.Run(ctx)
	}()

	purger := startPurgeJob(ctx, cfg.Queue, workQueue, appLogger)
	defer purger.Stop()

	pipeline, err := service.NewPipelineService(db, taskStore, workQueue, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline service: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Pipeline:             pipeline,
		Queue:                workQueue,
		Verifier:             verifier,
		DB:                   db,
		Hub:                  notificationHub,
		AllowUnauthenticated: cfg.Hub.AllowUnauthenticated,
	})

	serverErr := startHTTPServer(ctx, cfg, router, appLogger)

	// A server failure reaches here without a signal; cancel the root
	// context so the loops below are told to stop either way.
	stop()
	appLogger.Info("waiting for background loops to drain")
	background.Wait()
	appLogger.Info("background loops drained")

	return serverErr
}

// setupDatabase opens the Postgres pool and verifies connectivity.
func setupDatabase(ctx context.Context, cfg *config.Config, appLogger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	appLogger.Info("database connection established")
	return db, nil
}

// runMigrations brings the schema up to date from the embedded files.
func runMigrations(db *sql.DB, appLogger *slog.Logger) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	appLogger.Info("database migrations applied")
	return nil
}

// startPurgeJob schedules the retention purge for finished work items.
func startPurgeJob(
	ctx context.Context,
	cfg config.QueueConfig,
	workQueue *queue.RedisQueue,
	appLogger *slog.Logger,
) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cfg.PurgeSchedule, func() {
		if _, err := workQueue.Purge(ctx, cfg.Retention); err != nil && ctx.Err() == nil {
			appLogger.Error("retention purge failed", "error", err)
		}
	})
	if err != nil {
		// The schedule is validated by config, so this is a programming
		// error; log and run without the purge job.
		appLogger.Error("failed to schedule retention purge", "error", err)
		return c
	}
	c.Start()
	appLogger.Info("retention purge scheduled",
		"schedule", cfg.PurgeSchedule,
		"retention", cfg.Retention)
	return c
}

// startHTTPServer runs the HTTP server until the root context is
// cancelled, then shuts it down gracefully.
func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	router http.Handler,
	appLogger *slog.Logger,
) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		appLogger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	appLogger.Info("server shutdown completed")
	return nil
}
