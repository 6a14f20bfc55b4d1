package task

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	result    Result
	expiresAt time.Time
}

// MemoryBackend keeps results in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	results map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		results: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Store saves a copy of result.
func (b *MemoryBackend) Store(_ context.Context, result *Result, ttl time.Duration) error {
	entry := memoryEntry{result: *result}
	entry.result.Result = append([]byte(nil), result.Result...)
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.results[result.TaskID] = entry
	b.mu.Unlock()
	return nil
}

// Get returns a copy of the stored result.
func (b *MemoryBackend) Get(_ context.Context, id string) (*Result, error) {
	b.mu.RLock()
	entry, ok := b.results[id]
	b.mu.RUnlock()

	if !ok || b.expired(entry) {
		return nil, ErrResultNotFound
	}
	result := entry.result
	return &result, nil
}

// PurgeExpired drops expired results.
func (b *MemoryBackend) PurgeExpired(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for id, entry := range b.results {
		if b.expired(entry) {
			delete(b.results, id)
			n++
		}
	}
	return n, nil
}

func (b *MemoryBackend) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt)
}
