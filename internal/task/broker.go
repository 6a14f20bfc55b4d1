package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Delivery is a message handed to a consumer. It stays unacknowledged until
// the consumer calls Ack or Requeue.
type Delivery struct {
	Message    *Message
	ReceivedAt time.Time

	raw string
}

// Broker transports task messages between producers and workers.
//
// Publish places messages whose ETA lies in the future on a delayed set and
// makes them available once due. Consume blocks for at most timeout and
// returns ErrNoMessage when nothing arrived. A consumed message remains
// unacknowledged until Ack or Requeue; Unacked lists deliveries that have
// been outstanding for at least olderThan so lost work can be recovered.
type Broker interface {
	Publish(ctx context.Context, msg *Message) error
	Consume(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Requeue(ctx context.Context, d *Delivery) error
	Unacked(ctx context.Context, queue string, olderThan time.Duration) ([]*Delivery, error)
	Close() error
}

func encodeMessage(msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	return string(data), nil
}

func decodeMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.ID == "" || msg.Task == "" {
		return nil, fmt.Errorf("failed to decode message: missing id or task name")
	}
	return &msg, nil
}

// isDelayed reports whether msg should wait on the delayed set.
func isDelayed(msg *Message, now time.Time) bool {
	return msg.ETA != nil && msg.ETA.After(now)
}
