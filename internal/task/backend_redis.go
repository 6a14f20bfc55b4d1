package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each result as a JSON string under
// <prefix>:result:<task id> with a Redis expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend creates a backend on client. An empty prefix uses
// DefaultKeyPrefix. The client is owned by the caller.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + ":result:" + id
}

// Store writes result with SET ... EX ttl.
func (b *RedisBackend) Store(ctx context.Context, result *Result, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for task %s: %w", result.TaskID, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, b.key(result.TaskID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result for task %s: %w", result.TaskID, err)
	}
	return nil
}

// Get reads and decodes a stored result.
func (b *RedisBackend) Get(ctx context.Context, id string) (*Result, error) {
	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result for task %s: %w", id, err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result for task %s: %w", id, err)
	}
	return &result, nil
}
