package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/agent-infra/internal/config"
	"github.com/phrazzld/agent-infra/internal/platform/postgres"
	"github.com/phrazzld/agent-infra/internal/platform/redis"
	"github.com/phrazzld/agent-infra/internal/task"
)

// application holds the shared dependencies of a running process so they
// can be closed in reverse order on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client
	kv    *redis.Store

	tasks *taskSetup
}

// newApplication opens the database, then Redis, then builds the task
// application. On failure everything opened so far is closed.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	logger.Info("application.startup",
		"app_name", cfg.Server.AppName,
		"version", cfg.Server.Version,
		"port", cfg.Server.Port)

	var err error
	app.db, err = postgres.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	app.redis, err = redis.Open(ctx, cfg.Redis.URL, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.kv = redis.NewStore(app.redis)

	app.tasks, err = newTaskApp(ctx, cfg.Task, taskDeps{
		redis:    app.redis,
		redisURL: cfg.Redis.URL,
		db:       app.db,
		logger:   logger,
	})
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize task app: %w", err)
	}

	return app, nil
}

func (app *application) taskApp() *task.App {
	return app.tasks.app
}

// newWorker builds a worker for queues, or for every registered queue when
// none are given.
func (app *application) newWorker(queues ...string) *task.Worker {
	wc := workerConfig(app.config.Task)
	wc.Queues = queues
	return task.NewWorker(app.taskApp(), wc)
}

// cleanup releases resources in reverse order of acquisition. It is safe to
// call on a partially initialized application.
func (app *application) cleanup() {
	if app.tasks != nil {
		app.tasks.close()
		app.tasks = nil
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis connection", "error", err)
		} else {
			app.logger.Info("redis.connection.closed")
		}
		app.redis = nil
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		} else {
			app.logger.Info("database.connection.closed")
		}
		app.db = nil
	}
	app.logger.Info("application.shutdown")
}
