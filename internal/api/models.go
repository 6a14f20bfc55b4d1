package api

// RootResponse is returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Environment string `json:"environment,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// SetKeyResponse is returned by POST /redis-test/set/{key}.
type SetKeyResponse struct {
	Message string `json:"message"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// GetKeyResponse is returned by GET /redis-test/get/{key}. Value is null
// when the key does not exist.
type GetKeyResponse struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// DeleteKeyResponse is returned by DELETE /redis-test/delete/{key}.
type DeleteKeyResponse struct {
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

// PingResponse is returned by GET /redis-test/ping.
type PingResponse struct {
	Message string `json:"message"`
	Ping    bool   `json:"ping"`
}
