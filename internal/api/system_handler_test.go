package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/agent-infra/internal/platform/logger"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newSystemHandler(db, redis Pinger) *SystemHandler {
	log, _ := logger.NewTestLogger()
	return NewSystemHandler(AppInfo{Name: "Agent Infra", Version: "0.1.0", Environment: "test"}, db, redis, log)
}

func TestSystemHandler_Root(t *testing.T) {
	h := newSystemHandler(nil, nil)
	w := httptest.NewRecorder()

	h.Root(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Agent Infra","version":"0.1.0"}`, w.Body.String())
}

func TestSystemHandler_Health(t *testing.T) {
	h := newSystemHandler(nil, nil)
	w := httptest.NewRecorder()

	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"api","environment":"test"}`, w.Body.String())
}

func TestSystemHandler_HealthDB(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	broken := pingerFunc(func(context.Context) error {
		return errors.New("dial postgres://app:pw@db:5432/app: connection refused")
	})

	tests := []struct {
		name     string
		db       Pinger
		wantCode int
		wantBody string
	}{
		{"healthy", healthy, http.StatusOK, `{"status":"healthy","service":"database","provider":"postgresql"}`},
		{"unreachable", broken, http.StatusServiceUnavailable,
			`{"status":"unhealthy","service":"database","provider":"postgresql","error":"database connection failed"}`},
		{"not configured", nil, http.StatusServiceUnavailable,
			`{"status":"unhealthy","service":"database","provider":"postgresql","error":"database connection failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSystemHandler(tt.db, nil)
			w := httptest.NewRecorder()

			h.HealthDB(w, httptest.NewRequest(http.MethodGet, "/health/db", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.NotContains(t, w.Body.String(), "pw@")
		})
	}
}

func TestSystemHandler_HealthRedis(t *testing.T) {
	h := newSystemHandler(nil, pingerFunc(func(context.Context) error { return nil }))
	w := httptest.NewRecorder()
	h.HealthRedis(w, httptest.NewRequest(http.MethodGet, "/health/redis", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"redis","provider":"redis"}`, w.Body.String())

	h = newSystemHandler(nil, pingerFunc(func(context.Context) error { return errors.New("down") }))
	w = httptest.NewRecorder()
	h.HealthRedis(w, httptest.NewRequest(http.MethodGet, "/health/redis", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
