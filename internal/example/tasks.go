package example

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/phrazzld/agent-infra/internal/task"
)

// Registered task names.
const (
	SendEmailTask   = "example.send_email"
	ProcessDataTask = "example.process_data"
)

// SendEmailRetryPolicy retries a failed send up to three times with capped,
// jittered exponential backoff.
var SendEmailRetryPolicy = task.RetryPolicy{
	MaxRetries:   3,
	DefaultDelay: 60 * time.Second,
	Backoff:      true,
	BackoffMax:   600 * time.Second,
	Jitter:       true,
}

// SendEmailArgs are the arguments of SendEmailTask.
type SendEmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendEmailResult is returned by SendEmailTask.
type SendEmailResult struct {
	Status  string `json:"status"`
	TaskID  string `json:"task_id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ProcessDataArgs are the arguments of ProcessDataTask.
type ProcessDataArgs struct {
	Data map[string]any `json:"data"`
}

// ProcessDataResult is returned by ProcessDataTask.
type ProcessDataResult struct {
	Status         string `json:"status"`
	TaskID         string `json:"task_id"`
	ProcessedItems int    `json:"processed_items"`
	Result         string `json:"result"`
}

// Sender delivers an email. The default sender only logs.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type logSender struct {
	logger *slog.Logger
}

func (s logSender) Send(ctx context.Context, to, subject, _ string) error {
	logger.FromContextOrDefault(ctx, s.logger).Info("simulating email send",
		"to", to,
		"subject", subject)
	return nil
}

// Tasks holds the example task handlers.
type Tasks struct {
	sender Sender
	logger *slog.Logger
}

// NewTasks creates the example tasks. A nil sender simulates delivery.
func NewTasks(sender Sender, logger *slog.Logger) *Tasks {
	if sender == nil {
		sender = logSender{logger: logger}
	}
	return &Tasks{sender: sender, logger: logger}
}

// Register adds the example tasks to app.
func (t *Tasks) Register(app *task.App) error {
	if err := app.Register(SendEmailTask, t.SendEmail, task.WithRetry(SendEmailRetryPolicy)); err != nil {
		return err
	}
	return app.Register(ProcessDataTask, t.ProcessData)
}

// SendEmail sends one email. Any error is retried per SendEmailRetryPolicy.
func (t *Tasks) SendEmail(ctx context.Context, req *task.Request, raw json.RawMessage) (any, error) {
	var args SendEmailArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid send_email arguments: %w", err)
	}

	log := t.logger.With("task_id", req.ID, "retry_count", req.Retries)
	log.Info("starting email task", "to", args.To, "subject", args.Subject)

	if err := t.sender.Send(logger.WithLogger(ctx, log), args.To, args.Subject, args.Body); err != nil {
		log.Error("email task failed", "error", err)
		return nil, err
	}

	log.Info("email task completed successfully")
	return SendEmailResult{
		Status:  "success",
		TaskID:  req.ID,
		To:      args.To,
		Subject: args.Subject,
		Message: "Email sent successfully (simulated)",
	}, nil
}

// ProcessData counts the top-level keys of the submitted data.
func (t *Tasks) ProcessData(_ context.Context, req *task.Request, raw json.RawMessage) (any, error) {
	var args ProcessDataArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid process_data arguments: %w", err)
	}

	keys := make([]string, 0, len(args.Data))
	for k := range args.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log := t.logger.With("task_id", req.ID)
	log.Info("processing data", "data_keys", keys)

	n := len(args.Data)
	log.Info("data processing completed")
	return ProcessDataResult{
		Status:         "success",
		TaskID:         req.ID,
		ProcessedItems: n,
		Result:         fmt.Sprintf("Processed %d items", n),
	}, nil
}
