package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/agent-infra/internal/redact"
)

// pingTimeout bounds connection checks.
const pingTimeout = 5 * time.Second

// Client wraps a go-redis client with an idempotent Close.
type Client struct {
	*goredis.Client

	closeOnce sync.Once
	closeErr  error
}

// Open parses url, builds a pooled client and verifies it with PING.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("redis url is empty")
	}

	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url %s: %w", redact.URL(url), err)
	}

	c := &Client{Client: goredis.NewClient(opts)}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", redact.URL(url), err)
	}

	logger.Info("redis.connection.initialized",
		"url", redact.URL(url),
		"db", opts.DB,
		"pool_size", opts.PoolSize)
	return c, nil
}

// Close releases the connection pool. Calling it more than once is safe.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Client.Close()
	})
	return c.closeErr
}

// Store is a plain string key/value store on Redis.
type Store struct {
	client goredis.UniversalClient
}

// NewStore creates a Store on client.
func NewStore(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// Set stores value under key without expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Get returns the value under key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes key and returns the number of keys deleted.
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return n, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
