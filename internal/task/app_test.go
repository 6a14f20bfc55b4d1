package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "agent_infra", cfg.Name)
	assert.Equal(t, "default", cfg.DefaultQueue)
	assert.True(t, cfg.AcksLate)
	assert.True(t, cfg.RejectOnWorkerLost)
	assert.Equal(t, 3600*time.Second, cfg.ResultExpires)
	assert.Equal(t, "json", cfg.Serializer)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.True(t, cfg.EnableUTC)
	assert.False(t, cfg.AlwaysEager)
}

func TestNewApp_Validation(t *testing.T) {
	log, _ := logger.NewTestLogger()
	broker := NewMemoryBroker(1, log)
	defer func() { _ = broker.Close() }()
	backend := NewMemoryBackend()

	_, err := NewApp(DefaultConfig(), nil, backend, log)
	assert.Error(t, err)

	_, err = NewApp(DefaultConfig(), broker, nil, log)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Serializer = "pickle"
	_, err = NewApp(cfg, broker, backend, log)
	assert.Error(t, err)

	app, err := NewApp(Config{}, broker, backend, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", app.Config().DefaultQueue)
}

func TestNewApp_Timezone(t *testing.T) {
	log, _ := logger.NewTestLogger()
	broker := NewMemoryBroker(1, log)
	defer func() { _ = broker.Close() }()
	backend := NewMemoryBackend()

	app, err := NewApp(DefaultConfig(), broker, backend, log)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, app.now().Location())

	cfg := DefaultConfig()
	cfg.EnableUTC = false
	cfg.Timezone = "Asia/Tokyo"
	app, err = NewApp(cfg, broker, backend, log)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", app.now().Location().String())

	cfg.EnableUTC = true
	app, err = NewApp(cfg, broker, backend, log)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, app.now().Location(), "EnableUTC overrides Timezone")

	cfg.EnableUTC = false
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err = NewApp(cfg, broker, backend, log)
	assert.ErrorContains(t, err, "invalid task timezone")
}

func TestApp_Register(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	require.NoError(t, app.Register("math.add", addHandler))
	require.NoError(t, app.Register("math.slow", addHandler, WithQueue("slow")))

	err := app.Register("math.add", addHandler)
	assert.ErrorIs(t, err, ErrDuplicateTask)

	assert.ErrorIs(t, app.Register("", addHandler), ErrInvalidTask)
	assert.ErrorIs(t, app.Register("nil.handler", nil), ErrInvalidTask)

	assert.Equal(t, []string{"math.add", "math.slow"}, app.Tasks())
	assert.Equal(t, []string{"default", "slow"}, app.Queues())

	def, ok := app.Lookup("math.slow")
	require.True(t, ok)
	assert.Equal(t, "slow", def.Queue)

	_, ok = app.Lookup("missing")
	assert.False(t, ok)
}

func TestApp_DelayPublishes(t *testing.T) {
	app, broker, _ := newTestApp(t, nil)
	require.NoError(t, app.Register("math.add", addHandler))
	ctx := context.Background()

	res, err := app.Delay(ctx, "math.add", addArgs{A: 1, B: 2})
	require.NoError(t, err)
	_, err = uuid.Parse(res.ID)
	require.NoError(t, err)

	d, err := broker.Consume(ctx, "default", time.Second)
	require.NoError(t, err)
	assert.Equal(t, res.ID, d.Message.ID)
	assert.Equal(t, "math.add", d.Message.Task)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(d.Message.Args))
	assert.Equal(t, 0, d.Message.Retries)

	result, err := res.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePending, result.State, "unprocessed tasks are pending")
}

func TestApp_DelayUnknownTask(t *testing.T) {
	app, _, _ := newTestApp(t, nil)

	_, err := app.Delay(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = app.Apply(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestApp_DelayEager(t *testing.T) {
	app, broker, _ := newTestApp(t, func(c *Config) { c.AlwaysEager = true })
	require.NoError(t, app.Register("math.add", addHandler))
	ctx := context.Background()

	res, err := app.Delay(ctx, "math.add", map[string]int{"a": 2, "b": 3})
	require.NoError(t, err)

	result, err := res.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, result.State)
	assert.NotNil(t, result.DateDone)

	var out map[string]int
	require.NoError(t, result.Decode(&out))
	assert.Equal(t, 5, out["sum"])

	_, err = broker.Consume(ctx, "default", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage, "eager tasks are not published")
}

func TestApp_DelayEagerRetriesAndPropagates(t *testing.T) {
	errBoom := errors.New("boom")
	calls := 0
	handler := func(_ context.Context, req *Request, _ json.RawMessage) (any, error) {
		calls++
		assert.True(t, req.Eager)
		return nil, errBoom
	}

	app, _, _ := newTestApp(t, func(c *Config) {
		c.AlwaysEager = true
		c.EagerPropagates = true
	})
	require.NoError(t, app.Register("flaky", handler, WithRetry(RetryPolicy{
		MaxRetries: 2,
		Backoff:    true,
		BackoffMax: time.Hour,
	})))

	start := time.Now()
	res, err := app.Delay(context.Background(), "flaky", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Less(t, time.Since(start), time.Second, "eager retries do not sleep")
	assert.Equal(t, 3, calls)

	require.NotNil(t, res)
	result, err := res.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailure, result.State)
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, "boom", result.Error)
}

func TestApp_DelayEagerWithoutPropagation(t *testing.T) {
	app, _, _ := newTestApp(t, func(c *Config) { c.AlwaysEager = true })
	require.NoError(t, app.Register("fail", func(context.Context, *Request, json.RawMessage) (any, error) {
		return nil, errors.New("nope")
	}))

	res, err := app.Delay(context.Background(), "fail", nil)
	require.NoError(t, err)

	result, err := res.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailure, result.State)
}

func TestApp_Apply(t *testing.T) {
	app, _, backend := newTestApp(t, nil)
	require.NoError(t, app.Register("math.add", addHandler))

	result, err := app.Apply(context.Background(), "math.add", json.RawMessage(`{"a":4,"b":4}`))
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, result.State)
	assert.JSONEq(t, `{"sum":8}`, string(result.Result))

	_, err = backend.Get(context.Background(), result.TaskID)
	assert.ErrorIs(t, err, ErrResultNotFound, "Apply does not store results")
}

func TestApp_ApplyRecoversPanic(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	require.NoError(t, app.Register("panic", func(context.Context, *Request, json.RawMessage) (any, error) {
		panic("kaboom")
	}))

	result, err := app.Apply(context.Background(), "panic", nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, result.State)
	assert.Contains(t, result.Error, "kaboom")
}

func TestApp_UnserializableResult(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	require.NoError(t, app.Register("chan", func(context.Context, *Request, json.RawMessage) (any, error) {
		return make(chan int), nil
	}))

	result, err := app.Apply(context.Background(), "chan", nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, result.State)
	assert.Contains(t, result.Error, "failed to encode task result")
}

func TestApp_Result(t *testing.T) {
	app, _, backend := newTestApp(t, nil)
	ctx := context.Background()

	_, err := app.Result(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTaskID)

	_, err = app.Result(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidTaskID)

	id := uuid.NewString()
	result, err := app.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, result.State)
	assert.Equal(t, id, result.TaskID)

	require.NoError(t, backend.Store(ctx, &Result{TaskID: id, State: StateStarted}, time.Minute))
	result, err = app.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, result.State)
}

func TestAsyncResult_Wait(t *testing.T) {
	app, _, backend := newTestApp(t, nil)
	ctx := context.Background()
	id := uuid.NewString()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = backend.Store(ctx, &Result{TaskID: id, State: StateSuccess, Result: json.RawMessage(`1`)}, time.Minute)
	}()

	result, err := app.NewAsyncResult(id).Wait(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, result.State)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	result, err = app.NewAsyncResult(uuid.NewString()).Wait(timeout, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, result.State)
}

func TestResult_Info(t *testing.T) {
	assert.Nil(t, (&Result{}).Info())
	assert.Equal(t, "boom", (&Result{Error: "boom"}).Info())
	assert.Equal(t, json.RawMessage(`{"a":1}`), (&Result{Result: json.RawMessage(`{"a":1}`), Error: "x"}).Info())

	var v any
	assert.ErrorIs(t, (&Result{}).Decode(&v), ErrNoResultValue)
}

func TestMarshalArgs(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `{}`},
		{"raw", json.RawMessage(`{"x":1}`), `{"x":1}`},
		{"empty raw", json.RawMessage(nil), `{}`},
		{"bytes", []byte(`[1,2]`), `[1,2]`},
		{"struct", addArgs{A: 1}, `{"a":1,"b":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalArgs(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := marshalArgs(make(chan int))
	assert.Error(t, err)
}

func TestState_Ready(t *testing.T) {
	assert.True(t, StateSuccess.Ready())
	assert.True(t, StateFailure.Ready())
	assert.False(t, StatePending.Ready())
	assert.False(t, StateStarted.Ready())
	assert.False(t, StateRetry.Ready())
}
