package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/agent-infra/internal/config"
	"github.com/phrazzld/agent-infra/internal/example"
	"github.com/phrazzld/agent-infra/internal/platform/postgres"
	"github.com/phrazzld/agent-infra/internal/platform/redis"
	"github.com/phrazzld/agent-infra/internal/redact"
	"github.com/phrazzld/agent-infra/internal/task"
)

// memoryBrokerSize bounds each in-process queue.
const memoryBrokerSize = 1024

// taskDeps are the shared connections a broker or backend may reuse.
type taskDeps struct {
	redis    *redis.Client
	redisURL string
	db       *sql.DB
	logger   *slog.Logger
}

// taskSetup is the assembled task application plus any connections opened
// only for it, which the caller must close.
type taskSetup struct {
	app    *task.App
	owned  []*redis.Client
	broker string
}

func (s *taskSetup) close() {
	_ = s.app.Broker().Close()
	for _, c := range s.owned {
		_ = c.Close()
	}
}

// newTaskApp builds the task application from cfg and registers the example
// tasks on it.
func newTaskApp(ctx context.Context, cfg config.TaskConfig, deps taskDeps) (*taskSetup, error) {
	brokerURL := cfg.BrokerURL
	backendURL := cfg.ResultBackend
	if brokerURL == "" {
		brokerURL = deps.redisURL
	}
	if backendURL == "" {
		backendURL = deps.redisURL
	}

	tcfg := task.DefaultConfig()
	tcfg.DefaultQueue = cfg.Queue
	tcfg.ResultExpires = cfg.ResultExpires
	if cfg.AlwaysEager {
		tcfg.AlwaysEager = true
		tcfg.EagerPropagates = true
		brokerURL = "memory://"
		backendURL = "cache+memory://"
	}

	setup := &taskSetup{broker: redact.URL(brokerURL)}

	broker, err := brokerFromURL(ctx, brokerURL, deps, setup)
	if err != nil {
		setup.closeOwned()
		return nil, err
	}
	backend, err := backendFromURL(ctx, backendURL, deps, setup)
	if err != nil {
		_ = broker.Close()
		setup.closeOwned()
		return nil, err
	}

	app, err := task.NewApp(tcfg, broker, backend, deps.logger)
	if err != nil {
		_ = broker.Close()
		setup.closeOwned()
		return nil, fmt.Errorf("failed to create task app: %w", err)
	}
	setup.app = app

	if err := example.NewTasks(nil, deps.logger).Register(app); err != nil {
		setup.close()
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	deps.logger.Info("task.app.initialized",
		"broker", setup.broker,
		"backend", redact.URL(backendURL),
		"eager", tcfg.AlwaysEager,
		"tasks", app.Tasks())
	return setup, nil
}

func (s *taskSetup) closeOwned() {
	for _, c := range s.owned {
		_ = c.Close()
	}
	s.owned = nil
}

func scheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", redact.URL(raw), err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("url %s has no scheme", redact.URL(raw))
	}
	return strings.ToLower(u.Scheme), nil
}

func brokerFromURL(ctx context.Context, raw string, deps taskDeps, setup *taskSetup) (task.Broker, error) {
	s, err := scheme(raw)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	switch s {
	case "memory":
		return task.NewMemoryBroker(memoryBrokerSize, deps.logger), nil
	case "redis", "rediss":
		client, err := redisFor(ctx, raw, deps, setup)
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}
		return task.NewRedisBroker(client, task.DefaultKeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", s)
	}
}

func backendFromURL(ctx context.Context, raw string, deps taskDeps, setup *taskSetup) (task.ResultBackend, error) {
	s, err := scheme(raw)
	if err != nil {
		return nil, fmt.Errorf("result backend: %w", err)
	}
	switch s {
	case "cache+memory", "memory":
		return task.NewMemoryBackend(), nil
	case "redis", "rediss":
		client, err := redisFor(ctx, raw, deps, setup)
		if err != nil {
			return nil, fmt.Errorf("result backend: %w", err)
		}
		return task.NewRedisBackend(client, task.DefaultKeyPrefix), nil
	case "postgres", "postgresql":
		if deps.db == nil {
			return nil, errors.New("result backend: postgres requested but no database is configured")
		}
		return postgres.NewResultStore(deps.db), nil
	default:
		return nil, fmt.Errorf("unsupported result backend scheme %q", s)
	}
}

// redisFor returns the shared client when raw names the same server,
// otherwise it opens a dedicated one owned by setup.
func redisFor(ctx context.Context, raw string, deps taskDeps, setup *taskSetup) (goredis.UniversalClient, error) {
	if deps.redis != nil && raw == deps.redisURL {
		return deps.redis, nil
	}
	client, err := redis.Open(ctx, raw, deps.logger)
	if err != nil {
		return nil, err
	}
	setup.owned = append(setup.owned, client)
	return client, nil
}

func workerConfig(cfg config.TaskConfig) task.WorkerConfig {
	wc := task.DefaultWorkerConfig()
	wc.Concurrency = cfg.WorkerCount
	wc.VisibilityTimeout = cfg.VisibilityTimeout
	return wc
}
