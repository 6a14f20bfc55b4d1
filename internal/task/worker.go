package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig holds configuration for a Worker.
type WorkerConfig struct {
	// Concurrency is the number of goroutines consuming the broker.
	// If zero or negative, defaults to 1.
	Concurrency int

	// Queues to consume. Empty means every queue known to the app.
	Queues []string

	// PollTimeout bounds each blocking Consume call.
	PollTimeout time.Duration

	// VisibilityTimeout is how long a delivery may stay unacknowledged
	// before it is considered lost. It must exceed the longest task.
	VisibilityTimeout time.Duration

	// RecoverInterval is how often lost deliveries are looked for and
	// expired results purged.
	RecoverInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:       2,
		PollTimeout:       time.Second,
		VisibilityTimeout: 30 * time.Minute,
		RecoverInterval:   time.Minute,
	}
}

// Worker executes tasks consumed from the app's broker.
type Worker struct {
	app    *App
	config WorkerConfig
	queues []string

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger     *slog.Logger
	errHandler func(msg *Message, err error)
}

// NewWorker creates a worker for app.
func NewWorker(app *App, config WorkerConfig) *Worker {
	logger := app.logger.With("component", "worker")

	if config.Concurrency <= 0 {
		logger.Warn("invalid worker concurrency specified, using default",
			"specified_count", config.Concurrency,
			"default_count", 1)
		config.Concurrency = 1
	}
	defaults := DefaultWorkerConfig()
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.RecoverInterval <= 0 {
		config.RecoverInterval = defaults.RecoverInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		app:    app,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		errHandler: func(msg *Message, err error) {
			logger.Error("task execution failed",
				"task_id", msg.ID,
				"task_name", msg.Task,
				"retries", msg.Retries,
				"error", err)
		},
	}
}

// SetErrorHandler replaces the function called when a task fails for good.
func (w *Worker) SetErrorHandler(handler func(msg *Message, err error)) {
	w.errHandler = handler
}

// Start recovers deliveries lost by a previous worker and starts the
// consumer goroutines and the recovery monitor.
func (w *Worker) Start(ctx context.Context) error {
	w.queues = w.config.Queues
	if len(w.queues) == 0 {
		w.queues = w.app.Queues()
	}

	if err := w.recoverLost(ctx); err != nil {
		return fmt.Errorf("failed to recover lost deliveries: %w", err)
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.consume(i)
	}

	w.wg.Add(1)
	go w.monitor()

	w.logger.Info("worker started",
		"concurrency", w.config.Concurrency,
		"queues", w.queues,
		"tasks", w.app.Tasks())
	return nil
}

// Stop stops consuming and waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping worker")
		w.cancel()
		w.wg.Wait()
		w.logger.Info("worker stopped")
	})
}

// Run starts the worker and blocks until ctx is done, then stops it.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Worker) consume(id int) {
	defer w.wg.Done()

	w.logger.Debug("starting consumer", "consumer_id", id)
	broker := w.app.broker

	for i := id; ; i++ {
		if w.ctx.Err() != nil {
			w.logger.Debug("stopping consumer", "consumer_id", id)
			return
		}

		queue := w.queues[i%len(w.queues)]
		d, err := broker.Consume(w.ctx, queue, w.config.PollTimeout)
		switch {
		case err == nil:
			w.process(d)
		case errors.Is(err, ErrNoMessage):
		case errors.Is(err, ErrQueueClosed), w.ctx.Err() != nil:
			w.logger.Debug("stopping consumer", "consumer_id", id)
			return
		default:
			w.logger.Error("failed to consume message",
				"consumer_id", id,
				"queue", queue,
				"error", err)
			select {
			case <-w.ctx.Done():
			case <-time.After(w.config.PollTimeout):
			}
		}
	}
}

// process runs one delivery to completion. It deliberately ignores worker
// cancellation so a stopping worker finishes what it started.
func (w *Worker) process(d *Delivery) {
	ctx := context.WithoutCancel(w.ctx)
	app := w.app
	msg := d.Message

	log := w.logger.With("task_id", msg.ID, "task_name", msg.Task, "retries", msg.Retries)

	def, ok := app.Lookup(msg.Task)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTask, msg.Task)
		w.record(ctx, app.failureResult(msg.ID, msg.Task, msg.Retries, err))
		w.ack(ctx, d)
		w.errHandler(msg, err)
		return
	}

	if !app.cfg.AcksLate {
		w.ack(ctx, d)
	}

	w.record(ctx, &Result{TaskID: msg.ID, Task: msg.Task, State: StateStarted, Retries: msg.Retries})
	log.Debug("task.started")

	start := time.Now()
	req := &Request{ID: msg.ID, Name: msg.Task, Retries: msg.Retries}
	value, err := app.invoke(ctx, def, req, msg.Args)

	switch {
	case err == nil:
		w.record(ctx, app.successResult(msg.ID, msg.Task, msg.Retries, value))
		log.Info("task.succeeded", "duration", time.Since(start))

	case def.Retry.ShouldRetry(msg.Retries, err):
		if retryErr := w.retry(ctx, def, msg, err); retryErr != nil {
			w.record(ctx, app.failureResult(msg.ID, msg.Task, msg.Retries, retryErr))
			w.errHandler(msg, retryErr)
		}

	default:
		w.record(ctx, app.failureResult(msg.ID, msg.Task, msg.Retries, err))
		w.errHandler(msg, err)
	}

	if app.cfg.AcksLate {
		w.ack(ctx, d)
	}
}

// retry republishes msg with an incremented retry count and an ETA from the
// task's retry policy.
func (w *Worker) retry(ctx context.Context, def *Definition, msg *Message, cause error) error {
	app := w.app
	delay := def.Retry.Delay(msg.Retries)
	now := app.now()
	eta := now.Add(delay)

	next := *msg
	next.Retries = msg.Retries + 1
	next.ETA = &eta
	next.SentAt = now

	// Record RETRY first so a fast redelivery cannot be overwritten by it.
	w.record(ctx, &Result{
		TaskID:  msg.ID,
		Task:    msg.Task,
		State:   StateRetry,
		Error:   cause.Error(),
		Retries: next.Retries,
	})

	if err := app.broker.Publish(ctx, &next); err != nil {
		return fmt.Errorf("failed to schedule retry after %v: %w", cause, err)
	}

	w.logger.Warn("task.retry",
		"task_id", msg.ID,
		"task_name", msg.Task,
		"retries", next.Retries,
		"max_retries", def.Retry.MaxRetries,
		"countdown", delay,
		"error", cause)
	return nil
}

func (w *Worker) record(ctx context.Context, result *Result) {
	if err := w.app.storeResult(ctx, result); err != nil {
		w.logger.Error("failed to record task state",
			"task_id", result.TaskID,
			"state", result.State,
			"error", err)
	}
}

func (w *Worker) ack(ctx context.Context, d *Delivery) {
	if err := w.app.broker.Ack(ctx, d); err != nil {
		w.logger.Error("failed to ack message",
			"task_id", d.Message.ID,
			"error", err)
	}
}

// monitor periodically recovers lost deliveries and purges expired results.
func (w *Worker) monitor() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.RecoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.recoverLost(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Error("failed to recover lost deliveries", "error", err)
			}
			w.purge(w.ctx)
		}
	}
}

// recoverLost handles deliveries unacknowledged for longer than the
// visibility timeout: they are requeued when RejectOnWorkerLost is set and
// recorded as failed otherwise.
func (w *Worker) recoverLost(ctx context.Context) error {
	app := w.app
	var requeued, failed int

	for _, queue := range w.queues {
		lost, err := app.broker.Unacked(ctx, queue, w.config.VisibilityTimeout)
		if err != nil {
			return err
		}

		for _, d := range lost {
			if app.cfg.RejectOnWorkerLost {
				if err := app.broker.Requeue(ctx, d); err != nil {
					w.logger.Error("failed to requeue lost delivery",
						"task_id", d.Message.ID,
						"queue", queue,
						"error", err)
					continue
				}
				requeued++
				continue
			}

			w.record(ctx, app.failureResult(d.Message.ID, d.Message.Task, d.Message.Retries, ErrWorkerLost))
			w.ack(ctx, d)
			failed++
		}
	}

	if requeued > 0 || failed > 0 {
		w.logger.Info("recovered lost deliveries",
			"requeued_count", requeued,
			"failed_count", failed)
	}
	return nil
}

func (w *Worker) purge(ctx context.Context) {
	purger, ok := w.app.backend.(Purger)
	if !ok {
		return
	}
	n, err := purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to purge expired results", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Debug("purged expired results", "count", n)
	}
}
