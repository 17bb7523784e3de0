// Package cache provides the TTL key/value stores used by the aggregation engine and source adapters.
// Supports in-memory, disk-persisted and Redis backends. Entries carry an integrity hash that is
// verified on every read.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultTTL is used when a store is constructed without one
const DefaultTTL = 24 * time.Hour

// Stats is a point-in-time view of a store
type Stats struct {
	Keys      int   `json:"keys"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	SizeBytes int64 `json:"sizeBytes"`
}

// Store defines the interface for cache storage.
// Implementations must be safe for concurrent use. No method returns an error:
// internal failures degrade to a miss, a false result or a zero count so callers
// can always proceed without the cache.
type Store interface {
	// Get returns the JSON encoding of the stored value.
	// Expired and corrupt entries are evicted and reported as a miss.
	Get(ctx context.Context, key string) (json.RawMessage, bool)

	// Set stores value under key. ttl <= 0 uses the store's default TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool

	// Delete removes key and returns the number of removed entries.
	Delete(ctx context.Context, key string) int

	Has(ctx context.Context, key string) bool
	Keys(ctx context.Context) []string
	Clear(ctx context.Context)
	Stats(ctx context.Context) Stats

	// InvalidatePattern removes every key matching a glob pattern ("*" and "?").
	InvalidatePattern(ctx context.Context, pattern string) int
	InvalidateKeys(ctx context.Context, keys []string) int

	// Close releases any resources held by the store.
	Close() error
}

// GetAs reads key and decodes it into T.
// A value that no longer decodes into T is evicted and reported as a miss.
func GetAs[T any](ctx context.Context, s Store, key string) (T, bool) {
	var out T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("cache value does not decode, evicting", "key", key, "error", err)
		s.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// WarmCache returns the cached value for key if present. Otherwise it calls fetch,
// stores the result with ttl and returns it. Fetch errors are returned and nothing is stored.
func WarmCache[T any](ctx context.Context, s Store, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := GetAs[T](ctx, s, key); ok {
		return v, nil
	}
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	s.Set(ctx, key, v, ttl)
	return v, nil
}

// NopStore is the disabled-cache mode: every read misses and nothing is ever stored.
type NopStore struct{}

// NewNopStore returns a store that never stores anything.
func NewNopStore() NopStore { return NopStore{} }

func (NopStore) Get(context.Context, string) (json.RawMessage, bool) { return nil, false }
func (NopStore) Set(context.Context, string, any, time.Duration) bool { return false }
func (NopStore) Delete(context.Context, string) int { return 0 }
func (NopStore) Has(context.Context, string) bool { return false }
func (NopStore) Keys(context.Context) []string { return []string{} }
func (NopStore) Clear(context.Context) {}
func (NopStore) Stats(context.Context) Stats { return Stats{} }
func (NopStore) InvalidatePattern(context.Context, string) int { return 0 }
func (NopStore) InvalidateKeys(context.Context, []string) int { return 0 }
func (NopStore) Close() error { return nil }
