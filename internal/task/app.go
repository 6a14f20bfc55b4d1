package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	_ "time/tzdata" // distroless images ship no zoneinfo

	"github.com/google/uuid"
)

// Config holds application-wide task settings.
type Config struct {
	// Name identifies the application in logs.
	Name string

	// DefaultQueue receives tasks registered without WithQueue.
	DefaultQueue string

	// AcksLate acknowledges a message only after its task has finished,
	// so a crash mid-task leaves the message recoverable.
	AcksLate bool

	// RejectOnWorkerLost requeues deliveries whose worker disappeared
	// instead of recording them as failed.
	RejectOnWorkerLost bool

	// ResultExpires is how long results are kept in the backend.
	ResultExpires time.Duration

	// Serializer names the message encoding. Only "json" is supported.
	Serializer string

	// Timezone names the IANA location of timestamps when EnableUTC is
	// false. Empty means UTC.
	Timezone string

	// EnableUTC records every timestamp in UTC regardless of Timezone.
	EnableUTC bool

	// AlwaysEager runs tasks synchronously inside Delay.
	AlwaysEager bool

	// EagerPropagates makes Delay return the task error in eager mode.
	EagerPropagates bool
}

// DefaultConfig returns the standard application settings.
func DefaultConfig() Config {
	return Config{
		Name:               "agent_infra",
		DefaultQueue:       "default",
		AcksLate:           true,
		RejectOnWorkerLost: true,
		ResultExpires:      time.Hour,
		Serializer:         "json",
		Timezone:           "UTC",
		EnableUTC:          true,
	}
}

// App is the registry of tasks and the entry point for sending them.
type App struct {
	cfg     Config
	broker  Broker
	backend ResultBackend
	logger  *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*Definition

	now   func() time.Time
	newID func() string
}

// NewApp creates an App sending through broker and recording to backend.
func NewApp(cfg Config, broker Broker, backend ResultBackend, logger *slog.Logger) (*App, error) {
	if broker == nil {
		return nil, errors.New("task app requires a broker")
	}
	if backend == nil {
		return nil, errors.New("task app requires a result backend")
	}
	if cfg.Serializer != "" && cfg.Serializer != "json" {
		return nil, fmt.Errorf("unsupported task serializer %q", cfg.Serializer)
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = DefaultConfig().DefaultQueue
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc := time.UTC
	if !cfg.EnableUTC {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid task timezone %q: %w", cfg.Timezone, err)
		}
	}
	now := func() time.Time { return time.Now().In(loc) }

	return &App{
		cfg:     cfg,
		broker:  broker,
		backend: backend,
		logger:  logger.With("task_app", cfg.Name),
		tasks:   make(map[string]*Definition),
		now:     now,
		newID:   uuid.NewString,
	}, nil
}

// Config returns the application settings.
func (a *App) Config() Config {
	return a.cfg
}

// Broker returns the broker the app publishes to.
func (a *App) Broker() Broker {
	return a.broker
}

// Register adds a task under name.
func (a *App) Register(name string, handler Handler, opts ...Option) error {
	if name == "" || handler == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidTask)
	}

	def := &Definition{Name: name, Handler: handler, Queue: a.cfg.DefaultQueue}
	for _, opt := range opts {
		opt(def)
	}
	if def.Queue == "" {
		def.Queue = a.cfg.DefaultQueue
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	a.tasks[name] = def

	a.logger.Debug("task registered", "task_name", name, "queue", def.Queue)
	return nil
}

// Lookup returns the definition registered under name.
func (a *App) Lookup(name string) (*Definition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	def, ok := a.tasks[name]
	return def, ok
}

// Tasks returns the registered task names in sorted order.
func (a *App) Tasks() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.tasks))
	for name := range a.tasks {
		names = append(names, name)
	}
	a.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Queues returns the distinct queues used by registered tasks, always
// including the default queue.
func (a *App) Queues() []string {
	seen := map[string]struct{}{a.cfg.DefaultQueue: {}}
	queues := []string{a.cfg.DefaultQueue}

	a.mu.RLock()
	for _, def := range a.tasks {
		if _, ok := seen[def.Queue]; !ok {
			seen[def.Queue] = struct{}{}
			queues = append(queues, def.Queue)
		}
	}
	a.mu.RUnlock()

	sort.Strings(queues[1:])
	return queues
}

// Delay sends a task for execution and returns a handle to its result.
//
// In eager mode the task runs before Delay returns and its result is
// stored; with EagerPropagates a failure is also returned as an error
// wrapping ErrTaskFailed.
func (a *App) Delay(ctx context.Context, name string, args any) (*AsyncResult, error) {
	def, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	payload, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:     a.newID(),
		Task:   name,
		Args:   payload,
		Queue:  def.Queue,
		SentAt: a.now(),
	}

	if a.cfg.AlwaysEager {
		result := a.runLocal(ctx, def, msg)
		if err := a.storeResult(ctx, result); err != nil {
			return nil, err
		}
		if result.State == StateFailure && a.cfg.EagerPropagates {
			return &AsyncResult{ID: msg.ID, app: a}, fmt.Errorf("%w: %s: %s", ErrTaskFailed, name, result.Error)
		}
		return &AsyncResult{ID: msg.ID, app: a}, nil
	}

	if err := a.broker.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send task %s: %w", name, err)
	}

	a.logger.Info("task.sent",
		"task_id", msg.ID,
		"task_name", name,
		"queue", msg.Queue)

	return &AsyncResult{ID: msg.ID, app: a}, nil
}

// Apply runs a task in the calling goroutine, retrying without delay, and
// returns its final result. Nothing is stored.
func (a *App) Apply(ctx context.Context, name string, args any) (*Result, error) {
	def, ok := a.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	payload, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:     a.newID(),
		Task:   name,
		Args:   payload,
		Queue:  def.Queue,
		SentAt: a.now(),
	}
	return a.runLocal(ctx, def, msg), nil
}

// runLocal executes msg synchronously until it succeeds or retries run out.
func (a *App) runLocal(ctx context.Context, def *Definition, msg *Message) *Result {
	retries := msg.Retries
	for {
		req := &Request{ID: msg.ID, Name: def.Name, Retries: retries, Eager: true}
		value, err := a.invoke(ctx, def, req, msg.Args)
		if err == nil {
			return a.successResult(msg.ID, def.Name, retries, value)
		}
		if !def.Retry.ShouldRetry(retries, err) {
			return a.failureResult(msg.ID, def.Name, retries, err)
		}
		a.logger.Debug("task.retry",
			"task_id", msg.ID,
			"task_name", def.Name,
			"retries", retries+1,
			"eager", true,
			"error", err)
		retries++
	}
}

// Result returns the latest recorded state of task id. Unknown ids are
// reported as PENDING.
func (a *App) Result(ctx context.Context, id string) (*Result, error) {
	if id == "" {
		return nil, ErrInvalidTaskID
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTaskID, id)
	}

	result, err := a.backend.Get(ctx, id)
	if errors.Is(err, ErrResultNotFound) {
		return &Result{TaskID: id, State: StatePending}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// invoke calls the handler, converting a panic into an error wrapping
// ErrTaskPanicked.
func (a *App) invoke(ctx context.Context, def *Definition, req *Request, args json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("task panicked",
				"task_id", req.ID,
				"task_name", req.Name,
				"panic", r)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return def.Handler(ctx, req, args)
}

func (a *App) successResult(id, name string, retries int, value any) *Result {
	data, err := json.Marshal(value)
	if err != nil {
		return a.failureResult(id, name, retries, fmt.Errorf("failed to encode task result: %w", err))
	}
	done := a.now()
	return &Result{
		TaskID:   id,
		Task:     name,
		State:    StateSuccess,
		Result:   data,
		Retries:  retries,
		DateDone: &done,
	}
}

func (a *App) failureResult(id, name string, retries int, err error) *Result {
	done := a.now()
	return &Result{
		TaskID:   id,
		Task:     name,
		State:    StateFailure,
		Error:    err.Error(),
		Retries:  retries,
		DateDone: &done,
	}
}

func (a *App) storeResult(ctx context.Context, result *Result) error {
	if err := a.backend.Store(ctx, result, a.cfg.ResultExpires); err != nil {
		return fmt.Errorf("failed to record %s state for task %s: %w", result.State, result.TaskID, err)
	}
	return nil
}

// marshalArgs encodes task arguments. Raw JSON passes through unchanged and
// nil becomes an empty object.
func marshalArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.RawMessage(v), nil
	}

	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task arguments: %w", err)
	}
	return data, nil
}

// AsyncResult is a handle to a sent task.
type AsyncResult struct {
	ID  string
	app *App
}

// NewAsyncResult returns a handle for an existing task id.
func (a *App) NewAsyncResult(id string) *AsyncResult {
	return &AsyncResult{ID: id, app: a}
}

// Get returns the current result of the task.
func (r *AsyncResult) Get(ctx context.Context) (*Result, error) {
	return r.app.Result(ctx, r.ID)
}

// Wait polls every interval until the task reaches a final state or ctx ends.
func (r *AsyncResult) Wait(ctx context.Context, interval time.Duration) (*Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := r.Get(ctx)
		if err != nil {
			return nil, err
		}
		if result.State.Ready() {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
