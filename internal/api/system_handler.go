package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/agent-infra/internal/api/shared"
	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/phrazzld/agent-infra/internal/redact"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AppInfo identifies the running service.
type AppInfo struct {
	Name        string
	Version     string
	Environment string
}

// SystemHandler serves the root and health endpoints.
type SystemHandler struct {
	info   AppInfo
	db     Pinger
	redis  Pinger
	logger *slog.Logger
}

// NewSystemHandler creates a SystemHandler. db and redis may be nil, in
// which case their health checks report unhealthy.
func NewSystemHandler(info AppInfo, db, redis Pinger, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{info: info, db: db, redis: redis, logger: logger}
}

// Root handles GET /.
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, RootResponse{
		Message: h.info.Name,
		Version: h.info.Version,
	})
}

// Health handles GET /health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:      StatusHealthy,
		Service:     "api",
		Environment: h.info.Environment,
	})
}

// HealthDB handles GET /health/db.
func (h *SystemHandler) HealthDB(w http.ResponseWriter, r *http.Request) {
	h.probe(w, r, h.db, HealthResponse{Service: "database", Provider: "postgresql"})
}

// HealthRedis handles GET /health/redis.
func (h *SystemHandler) HealthRedis(w http.ResponseWriter, r *http.Request) {
	h.probe(w, r, h.redis, HealthResponse{Service: "redis", Provider: "redis"})
}

func (h *SystemHandler) probe(w http.ResponseWriter, r *http.Request, p Pinger, resp HealthResponse) {
	var err error
	if p == nil {
		err = errNotConfigured
	} else {
		err = p.Ping(r.Context())
	}

	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Error("health check failed",
			"service", resp.Service,
			"error", redact.Error(err))
		resp.Status = StatusUnhealthy
		resp.Error = resp.Service + " connection failed"
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = StatusHealthy
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
