package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(id, queue string) *Message {
	return &Message{
		ID:     id,
		Task:   "test.task",
		Args:   json.RawMessage(`{}`),
		Queue:  queue,
		SentAt: time.Now(),
	}
}

func TestMemoryBroker_PublishConsumeAck(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, newMessage("1", "default")))
	require.NoError(t, b.Publish(ctx, newMessage("2", "default")))

	d, err := b.Consume(ctx, "default", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Message.ID)

	unacked, err := b.Unacked(ctx, "default", 0)
	require.NoError(t, err)
	assert.Len(t, unacked, 1)

	require.NoError(t, b.Ack(ctx, d))
	unacked, err = b.Unacked(ctx, "default", 0)
	require.NoError(t, err)
	assert.Empty(t, unacked)

	d, err = b.Consume(ctx, "default", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2", d.Message.ID)
}

func TestMemoryBroker_ConsumeTimeout(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()

	_, err := b.Consume(context.Background(), "default", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMemoryBroker_ConsumeContextCancelled(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Consume(ctx, "default", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBroker_QueueFull(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(1, log)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, newMessage("1", "default")))
	err := b.Publish(ctx, newMessage("2", "default"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryBroker_Requeue(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, newMessage("1", "default")))
	d, err := b.Consume(ctx, "default", time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Requeue(ctx, d))
	// A second requeue of the same delivery is a no-op.
	require.NoError(t, b.Requeue(ctx, d))

	again, err := b.Consume(ctx, "default", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Message.ID)

	_, err = b.Consume(ctx, "default", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMemoryBroker_DelayedMessage(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	msg := newMessage("1", "default")
	eta := time.Now().Add(50 * time.Millisecond)
	msg.ETA = &eta
	require.NoError(t, b.Publish(ctx, msg))

	_, err := b.Consume(ctx, "default", 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)

	d, err := b.Consume(ctx, "default", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Message.ID)
}

func TestMemoryBroker_UnackedOlderThan(t *testing.T) {
	log, _ := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Publish(ctx, newMessage("1", "default")))
	_, err := b.Consume(ctx, "default", time.Second)
	require.NoError(t, err)

	stale, err := b.Unacked(ctx, "default", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, stale)

	b.now = func() time.Time { return now.Add(2 * time.Minute) }
	stale, err = b.Unacked(ctx, "default", time.Minute)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	stale, err = b.Unacked(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMemoryBroker_Close(t *testing.T) {
	log, buf := logger.NewTestLogger()
	b := NewMemoryBroker(4, log)
	ctx := context.Background()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(ctx, newMessage("1", "default")), ErrQueueClosed)
	_, err := b.Consume(ctx, "default", time.Second)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.True(t, buf.HasMessage("task queue closed"))
}
