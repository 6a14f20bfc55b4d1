package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every Redis key written by this package.
const DefaultKeyPrefix = "agent_infra"

// promoteBatch bounds how many due delayed messages move per poll.
const promoteBatch = 100

// promoteDelayed moves due messages from the delayed set onto the ready list.
var promoteDelayed = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// requeueUnacked moves one delivery from the unacked list back to the front
// of the ready list. It is a no-op when the delivery was already acked or
// requeued by another worker.
var requeueUnacked = redis.NewScript(`
local n = redis.call('LREM', KEYS[1], 1, ARGV[1])
if n > 0 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
redis.call('HDEL', KEYS[3], ARGV[1])
return n
`)

// RedisBroker is a Broker backed by Redis lists.
//
// For queue q it uses:
//
//	<prefix>:queue:q                  ready list, LPUSH in / BLMOVE out
//	<prefix>:queue:q:unacked          consumed but not yet acknowledged
//	<prefix>:queue:q:unacked:received receipt time per unacked body (unix ms)
//	<prefix>:queue:q:delayed          sorted set scored by ETA (unix ms)
//
// The client is owned by the caller.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// NewRedisBroker creates a broker on client. An empty prefix uses DefaultKeyPrefix.
func NewRedisBroker(client redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBroker{client: client, prefix: prefix, now: time.Now}
}

func (b *RedisBroker) readyKey(queue string) string {
	return b.prefix + ":queue:" + queue
}

func (b *RedisBroker) unackedKey(queue string) string {
	return b.readyKey(queue) + ":unacked"
}

func (b *RedisBroker) receivedKey(queue string) string {
	return b.unackedKey(queue) + ":received"
}

func (b *RedisBroker) delayedKey(queue string) string {
	return b.readyKey(queue) + ":delayed"
}

// Publish pushes the message onto its ready list, or onto the delayed set
// when its ETA is in the future.
func (b *RedisBroker) Publish(ctx context.Context, msg *Message) error {
	if b.closed.Load() {
		return ErrQueueClosed
	}

	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	if isDelayed(msg, b.now()) {
		err = b.client.ZAdd(ctx, b.delayedKey(msg.Queue), redis.Z{
			Score:  float64(msg.ETA.UnixMilli()),
			Member: raw,
		}).Err()
	} else {
		err = b.client.LPush(ctx, b.readyKey(msg.Queue), raw).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	return nil
}

// Consume promotes due delayed messages, then blocks up to timeout moving the
// oldest ready message onto the unacked list.
func (b *RedisBroker) Consume(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error) {
	if b.closed.Load() {
		return nil, ErrQueueClosed
	}

	if _, err := b.promote(ctx, queue); err != nil {
		return nil, err
	}

	raw, err := b.client.BLMove(ctx, b.readyKey(queue), b.unackedKey(queue), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoMessage
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to consume from queue %s: %w", queue, err)
	}

	now := b.now()
	msg, err := decodeMessage(raw)
	if err != nil {
		// Drop poison messages so they are not redelivered forever.
		b.client.LRem(ctx, b.unackedKey(queue), 1, raw)
		return nil, err
	}

	if err := b.client.HSet(ctx, b.receivedKey(queue), raw, now.UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("failed to record receipt of message %s: %w", msg.ID, err)
	}

	return &Delivery{Message: msg, ReceivedAt: now, raw: raw}, nil
}

func (b *RedisBroker) promote(ctx context.Context, queue string) (int64, error) {
	n, err := promoteDelayed.Run(ctx, b.client,
		[]string{b.delayedKey(queue), b.readyKey(queue)},
		b.now().UnixMilli(), promoteBatch,
	).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to promote delayed messages on queue %s: %w", queue, err)
	}
	return n, nil
}

// Ack removes a delivery from the unacked list.
func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	queue := d.Message.Queue
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.unackedKey(queue), 1, d.raw)
		pipe.HDel(ctx, b.receivedKey(queue), d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.Message.ID, err)
	}
	return nil
}

// Requeue returns an unacknowledged delivery to the front of its queue.
func (b *RedisBroker) Requeue(ctx context.Context, d *Delivery) error {
	queue := d.Message.Queue
	err := requeueUnacked.Run(ctx, b.client,
		[]string{b.unackedKey(queue), b.readyKey(queue), b.receivedKey(queue)},
		d.raw,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to requeue message %s: %w", d.Message.ID, err)
	}
	return nil
}

// Unacked lists deliveries on queue that have been outstanding for at least
// olderThan. Entries without a receipt time (a consumer died between the
// move and the bookkeeping write) are stamped now and reported only when
// olderThan is zero.
func (b *RedisBroker) Unacked(ctx context.Context, queue string, olderThan time.Duration) ([]*Delivery, error) {
	raws, err := b.client.LRange(ctx, b.unackedKey(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unacked messages on queue %s: %w", queue, err)
	}
	if len(raws) == 0 {
		return nil, nil
	}

	received, err := b.client.HGetAll(ctx, b.receivedKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt times on queue %s: %w", queue, err)
	}

	now := b.now()
	cutoff := now.Add(-olderThan)
	var stale []*Delivery
	for _, raw := range raws {
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}

		receivedAt := now
		if ms, ok := received[raw]; ok {
			if parsed, err := strconv.ParseInt(ms, 10, 64); err == nil {
				receivedAt = time.UnixMilli(parsed)
			}
		} else {
			b.client.HSetNX(ctx, b.receivedKey(queue), raw, now.UnixMilli())
		}

		if !receivedAt.After(cutoff) {
			stale = append(stale, &Delivery{Message: msg, ReceivedAt: receivedAt, raw: raw})
		}
	}
	return stale, nil
}

// Close stops the broker from accepting or handing out messages. The Redis
// client is left open for its owner to close.
func (b *RedisBroker) Close() error {
	b.closed.Store(true)
	return nil
}
