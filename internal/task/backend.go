package task

import (
	"context"
	"time"
)

// ResultBackend stores task results.
//
// Get returns ErrResultNotFound when nothing is stored for id or the stored
// result has expired. A non-positive ttl keeps the result until overwritten.
type ResultBackend interface {
	Store(ctx context.Context, result *Result, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Result, error)
}

// Purger is implemented by backends that need expired results removed
// explicitly. Workers call it periodically.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
