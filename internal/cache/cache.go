package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a cached value with its local capture time.
type Entry[T any] struct {
	Value      T
	CapturedAt time.Time
}

// Result is a served value tagged with the tier it came from.
type Result[T any] struct {
	Value      T
	CapturedAt time.Time

	// Cached is true when the value came from a stored entry rather than
	// the fetch that this call performed.
	Cached bool

	// Stale is true when the entry is older than the freshness window and
	// the refresh attempt failed. Err then holds the triggering error.
	Stale bool
	Err   error
}

// FetchFunc produces a fresh value for a key. Fetches must be idempotent
// reads: concurrent misses for the same key are not deduplicated.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cache is a keyed snapshot store with fresh / stale-on-error serving tiers.
// A write fully replaces the prior entry for its key.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]Entry[T]

	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty cache using the wall clock.
func New[T any](logger *slog.Logger) *Cache[T] {
	return NewWithClock[T](logger, time.Now)
}

// NewWithClock creates an empty cache with an injected clock.
func NewWithClock[T any](logger *slog.Logger, now func() time.Time) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		entries: make(map[string]Entry[T]),
		now:     now,
		logger:  logger,
	}
}

// Get serves key from the freshest available tier.
//
// A live entry (younger than ttl) is returned tagged Cached. Otherwise fetch
// runs; on success the value is stored and returned untagged (fresh). On
// failure any prior entry, even an expired one, is returned tagged Stale
// together with the triggering error. Only when no entry exists at all does
// Get return the fetch error, and the caller decides what to serve instead.
func (c *Cache[T]) Get(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc[T]) (Result[T], error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	now := c.now()
	c.mu.Unlock()

	if ok && now.Sub(entry.CapturedAt) < ttl {
		return Result[T]{
			Value:      entry.Value,
			CapturedAt: entry.CapturedAt,
			Cached:     true,
		}, nil
	}

	value, err := fetch(ctx)
	if err != nil {
		c.mu.Lock()
		entry, ok = c.entries[key]
		c.mu.Unlock()

		if ok {
			c.logger.Warn("fetch failed, serving stale entry",
				"key", key,
				"age", c.now().Sub(entry.CapturedAt),
				"error", err,
			)
			return Result[T]{
				Value:      entry.Value,
				CapturedAt: entry.CapturedAt,
				Cached:     true,
				Stale:      true,
				Err:        err,
			}, nil
		}

		c.logger.Warn("fetch failed with no cached entry", "key", key, "error", err)
		return Result[T]{}, err
	}

	capturedAt := c.now()
	c.mu.Lock()
	c.entries[key] = Entry[T]{Value: value, CapturedAt: capturedAt}
	c.mu.Unlock()

	return Result[T]{Value: value, CapturedAt: capturedAt}, nil
}

// Refresh runs fetch unconditionally and stores the result on success.
// Used by the background warmer; errors are returned but leave any existing
// entry untouched.
func (c *Cache[T]) Refresh(ctx context.Context, key string, fetch FetchFunc[T]) error {
	value, err := fetch(ctx)
	if err != nil {
		return err
	}

	capturedAt := c.now()
	c.mu.Lock()
	c.entries[key] = Entry[T]{Value: value, CapturedAt: capturedAt}
	c.mu.Unlock()

	return nil
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
