package task

import (
	"context"
	"encoding/json"
	"time"
)

// State is the lifecycle state of a task as recorded in the result backend.
type State string

// Possible task states
const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateRetry   State = "RETRY"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// Ready reports whether the state is final.
func (s State) Ready() bool {
	return s == StateSuccess || s == StateFailure
}

// Message is the unit transported by a Broker.
type Message struct {
	ID      string          `json:"id"`
	Task    string          `json:"task"`
	Args    json.RawMessage `json:"args"`
	Queue   string          `json:"queue"`
	Retries int             `json:"retries"`
	ETA     *time.Time      `json:"eta,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Result is the recorded outcome of a task.
type Result struct {
	TaskID   string          `json:"task_id"`
	Task     string          `json:"task,omitempty"`
	State    State           `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Retries  int             `json:"retries"`
	DateDone *time.Time      `json:"date_done,omitempty"`
}

// Info returns the most useful detail for a non-final state: the last
// stored value if there is one, otherwise the last error message.
func (r *Result) Info() any {
	if len(r.Result) > 0 {
		return r.Result
	}
	if r.Error != "" {
		return r.Error
	}
	return nil
}

// Decode unmarshals the stored result value into v.
func (r *Result) Decode(v any) error {
	if len(r.Result) == 0 {
		return ErrNoResultValue
	}
	return json.Unmarshal(r.Result, v)
}

// Request describes the invocation a Handler is running.
type Request struct {
	ID      string
	Name    string
	Retries int
	Eager   bool
}

// Handler executes a task. args holds the JSON arguments the task was sent
// with; the returned value is stored as the task result and must be JSON
// serializable.
type Handler func(ctx context.Context, req *Request, args json.RawMessage) (any, error)

// Definition is a registered task.
type Definition struct {
	Name    string
	Handler Handler
	Retry   RetryPolicy
	Queue   string
}

// Option customizes a Definition at registration time.
type Option func(*Definition)

// WithRetry sets the retry policy applied when the handler returns an error.
func WithRetry(policy RetryPolicy) Option {
	return func(d *Definition) {
		d.Retry = policy
	}
}

// WithQueue routes the task to a queue other than the app default.
func WithQueue(queue string) Option {
	return func(d *Definition) {
		d.Queue = queue
	}
}
