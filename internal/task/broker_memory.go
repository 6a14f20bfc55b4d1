package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMemoryQueueSize is the per-queue buffer of a MemoryBroker.
const DefaultMemoryQueueSize = 1024

// MemoryBroker is an in-process Broker backed by buffered channels. It is
// used in eager mode and in tests; nothing survives a restart.
type MemoryBroker struct {
	mu      sync.Mutex
	size    int
	queues  map[string]chan *Message
	unacked map[*Delivery]struct{}
	timers  map[*time.Timer]struct{}
	closed  bool
	done    chan struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewMemoryBroker creates a MemoryBroker whose queues each buffer up to size
// messages. A non-positive size uses DefaultMemoryQueueSize.
func NewMemoryBroker(size int, logger *slog.Logger) *MemoryBroker {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	return &MemoryBroker{
		size:    size,
		queues:  make(map[string]chan *Message),
		unacked: make(map[*Delivery]struct{}),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// queue returns the channel for name, creating it on first use.
// Callers must hold b.mu.
func (b *MemoryBroker) queue(name string) chan *Message {
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan *Message, b.size)
		b.queues[name] = ch
	}
	return ch
}

// Publish adds a message to its queue, or schedules it when it has a future ETA.
func (b *MemoryBroker) Publish(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	clone := *msg
	if isDelayed(&clone, b.now()) {
		var timer *time.Timer
		timer = time.AfterFunc(clone.ETA.Sub(b.now()), func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.timers, timer)
			if b.closed {
				return
			}
			if err := b.enqueueLocked(&clone); err != nil {
				b.logger.Error("failed to release delayed message",
					"task_id", clone.ID,
					"task_name", clone.Task,
					"error", err)
			}
		})
		b.timers[timer] = struct{}{}
		return nil
	}

	return b.enqueueLocked(&clone)
}

func (b *MemoryBroker) enqueueLocked(msg *Message) error {
	ch := b.queue(msg.Queue)
	select {
	case ch <- msg:
		b.logger.Debug("task enqueued",
			"task_id", msg.ID,
			"task_name", msg.Task,
			"queue", msg.Queue,
			"queue_len", len(ch),
			"queue_cap", cap(ch))
		return nil
	default:
		return fmt.Errorf("%w: queue %s capacity %d reached", ErrQueueFull, msg.Queue, cap(ch))
	}
}

// Consume waits up to timeout for a message on queue.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ch := b.queue(queue)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		d := &Delivery{Message: msg, ReceivedAt: b.now()}
		b.mu.Lock()
		b.unacked[d] = struct{}{}
		b.mu.Unlock()
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrQueueClosed
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

// Ack forgets a delivery.
func (b *MemoryBroker) Ack(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.unacked, d)
	return nil
}

// Requeue puts an unacknowledged delivery back on its queue.
func (b *MemoryBroker) Requeue(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.unacked[d]; !ok {
		return nil
	}
	delete(b.unacked, d)
	if b.closed {
		return ErrQueueClosed
	}
	return b.enqueueLocked(d.Message)
}

// Unacked lists deliveries on queue outstanding for at least olderThan.
func (b *MemoryBroker) Unacked(_ context.Context, queue string, olderThan time.Duration) ([]*Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-olderThan)
	var stale []*Delivery
	for d := range b.unacked {
		if d.Message.Queue == queue && !d.ReceivedAt.After(cutoff) {
			stale = append(stale, d)
		}
	}
	return stale, nil
}

// Close stops accepting messages and cancels pending delayed deliveries.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for timer := range b.timers {
		timer.Stop()
	}
	b.timers = nil
	b.logger.Info("task queue closed")
	return nil
}
