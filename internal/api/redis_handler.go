package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/agent-infra/internal/api/shared"
)

var errNotConfigured = errors.New("dependency not configured")

// KeyValueStore is the Redis surface used by the /redis-test endpoints.
type KeyValueStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
}

// RedisHandler exposes simple Redis operations for verifying connectivity.
type RedisHandler struct {
	store  KeyValueStore
	logger *slog.Logger
}

// NewRedisHandler creates a RedisHandler. A nil store makes every endpoint
// report the dependency as unavailable.
func NewRedisHandler(store KeyValueStore, logger *slog.Logger) *RedisHandler {
	if store == nil {
		store = missingStore{}
	}
	return &RedisHandler{store: store, logger: logger}
}

type missingStore struct{}

func (missingStore) Set(context.Context, string, string) error { return errNotConfigured }
func (missingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errNotConfigured
}
func (missingStore) Delete(context.Context, string) (int64, error) { return 0, errNotConfigured }
func (missingStore) Ping(context.Context) error                    { return errNotConfigured }

// SetKey handles POST /redis-test/set/{key}?value=...
func (h *RedisHandler) SetKey(w http.ResponseWriter, r *http.Request) {
	key := PathParam(r, "key")
	values, ok := r.URL.Query()["value"]
	if !ok || len(values) == 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing required query parameter: value")
		return
	}
	value := values[0]

	if err := h.store.Set(r.Context(), key, value); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Redis operation failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SetKeyResponse{
		Message: "Key set successfully",
		Key:     key,
		Value:   value,
	})
}

// GetKey handles GET /redis-test/get/{key}.
func (h *RedisHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := PathParam(r, "key")

	value, found, err := h.store.Get(r.Context(), key)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Redis operation failed", err)
		return
	}

	resp := GetKeyResponse{Key: key}
	if found {
		resp.Value = &value
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// DeleteKey handles DELETE /redis-test/delete/{key}.
func (h *RedisHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := PathParam(r, "key")

	n, err := h.store.Delete(r.Context(), key)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Redis operation failed", err)
		return
	}

	msg := "Key not found"
	if n > 0 {
		msg = "Key deleted"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeleteKeyResponse{Message: msg, DeletedCount: n})
}

// Ping handles GET /redis-test/ping.
func (h *RedisHandler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Redis connection failed", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, PingResponse{Message: "Redis connection OK", Ping: true})
}
