package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/agent-infra/internal/api"
	"github.com/phrazzld/agent-infra/internal/api/middleware"
	"github.com/phrazzld/agent-infra/internal/example"
	"github.com/phrazzld/agent-infra/internal/platform/postgres"
)

// routerDeps is everything the HTTP surface needs. Nil pingers and stores
// are reported as unavailable by their handlers.
type routerDeps struct {
	info           api.AppInfo
	allowedOrigins []string
	db             api.Pinger
	redis          api.Pinger
	kv             api.KeyValueStore
	tasks          example.TaskClient
	logger         *slog.Logger
}

func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(deps.logger))
	r.Use(middleware.RequestLogger(deps.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(deps.allowedOrigins))

	system := api.NewSystemHandler(deps.info, deps.db, deps.redis, deps.logger)
	r.Get("/", system.Root)
	r.Get("/health", system.Health)
	r.Get("/health/db", system.HealthDB)
	r.Get("/health/redis", system.HealthRedis)

	kv := api.NewRedisHandler(deps.kv, deps.logger)
	r.Route("/redis-test", func(r chi.Router) {
		r.Post("/set/{key}", kv.SetKey)
		r.Get("/get/{key}", kv.GetKey)
		r.Delete("/delete/{key}", kv.DeleteKey)
		r.Get("/ping", kv.Ping)
	})

	r.Route("/example", example.NewHandler(deps.tasks, deps.logger).Routes)

	return r
}

// routerDeps builds the router dependencies from an initialized application.
func (app *application) routerDeps() routerDeps {
	deps := routerDeps{
		info: api.AppInfo{
			Name:        app.config.Server.AppName,
			Version:     app.config.Server.Version,
			Environment: app.config.Server.Environment,
		},
		allowedOrigins: app.config.Server.AllowedOrigins,
		tasks:          app.taskApp(),
		logger:         app.logger,
	}
	if app.db != nil {
		deps.db = postgres.Checker{DB: app.db}
	}
	if app.kv != nil {
		deps.redis = app.kv
		deps.kv = app.kv
	}
	return deps
}
