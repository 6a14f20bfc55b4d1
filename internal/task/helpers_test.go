package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addHandler(_ context.Context, _ *Request, args json.RawMessage) (any, error) {
	var in addArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return map[string]int{"sum": in.A + in.B}, nil
}

// newTestApp builds an App on a memory broker and backend.
func newTestApp(t *testing.T, mutate func(*Config)) (*App, *MemoryBroker, *MemoryBackend) {
	t.Helper()

	log, _ := logger.NewTestLogger()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	broker := NewMemoryBroker(16, log)
	backend := NewMemoryBackend()
	app, err := NewApp(cfg, broker, backend, log)
	require.NoError(t, err)

	t.Cleanup(func() { _ = broker.Close() })
	return app, broker, backend
}

// waitForState polls until the task reaches state or the deadline passes.
func waitForState(t *testing.T, app *App, id string, state State) *Result {
	t.Helper()

	var result *Result
	require.Eventually(t, func() bool {
		var err error
		result, err = app.Result(context.Background(), id)
		return err == nil && result.State == state
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", id, state)
	return result
}
