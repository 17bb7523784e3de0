package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryConfig configures a MemoryStore
type MemoryConfig struct {
	// Name labels the store in logs and metrics (defaults to "memory")
	Name string

	// DefaultTTL is applied when Set is called with ttl <= 0 (defaults to 24 hours)
	DefaultTTL time.Duration

	// SweepInterval is how often expired entries are removed in the background.
	// Zero disables the sweeper; expired entries are then only dropped on access.
	SweepInterval time.Duration
}

type item struct {
	entry   Entry
	expires time.Time
	created time.Time
}

// MemoryStore implements Store with an in-process map.
type MemoryStore struct {
	name       string
	defaultTTL time.Duration

	mu    sync.Mutex
	items map[string]*item

	hits   atomic.Int64
	misses atomic.Int64

	// onMutate is called after any change to items, outside the lock
	onMutate func()

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a new in-memory store and starts its sweeper.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	s := &MemoryStore{
		name:       cfg.Name,
		defaultTTL: cfg.DefaultTTL,
		items:      make(map[string]*item),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	} else {
		close(s.done)
	}
	return s
}

// Get retrieves the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	it, evicted := s.live(key)
	if it == nil {
		s.mu.Unlock()
		if evicted {
			s.mutated()
		}
		s.miss()
		return nil, false
	}
	value := append(json.RawMessage(nil), it.entry.Value...)
	s.mu.Unlock()

	s.hits.Add(1)
	cacheRequests.WithLabelValues(s.name, "hit").Inc()
	return value, true
}

// Set stores value under key for ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	now := time.Now()
	entry, err := newEntry(value, now)
	if err != nil {
		slog.Warn("cache set failed", "store", s.name, "key", key, "error", err)
		return false
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	s.items[key] = &item{entry: entry, expires: now.Add(ttl), created: now}
	s.mu.Unlock()

	s.mutated()
	return true
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) int {
	return s.deleteKeys([]string{key}, "")
}

// Has reports whether an unexpired, intact entry exists for key.
func (s *MemoryStore) Has(_ context.Context, key string) bool {
	s.mu.Lock()
	it, evicted := s.live(key)
	s.mu.Unlock()
	if evicted {
		s.mutated()
	}
	return it != nil
}

// live returns the item under key, removing it when expired or corrupt.
// Must be called with s.mu held.
func (s *MemoryStore) live(key string) (it *item, evicted bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	switch {
	case !it.expires.After(time.Now()):
		cacheEvictions.WithLabelValues(s.name, "expired").Inc()
	case !it.entry.valid():
		slog.Warn("cache entry failed integrity check, evicting", "store", s.name, "key", key)
		cacheEvictions.WithLabelValues(s.name, "integrity").Inc()
	default:
		return it, false
	}
	delete(s.items, key)
	return nil, true
}

// Keys returns the unexpired keys in sorted order.
func (s *MemoryStore) Keys(_ context.Context) []string {
	now := time.Now()
	s.mu.Lock()
	keys := make([]string, 0, len(s.items))
	for k, it := range s.items {
		if it.expires.After(now) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Clear removes every entry.
func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	n := len(s.items)
	s.items = make(map[string]*item)
	s.mu.Unlock()

	if n > 0 {
		cacheEvictions.WithLabelValues(s.name, "invalidated").Add(float64(n))
	}
	s.mutated()
}

// Stats returns counters and the size of the stored values.
func (s *MemoryStore) Stats(ctx context.Context) Stats {
	keys := s.Keys(ctx)
	return Stats{
		Keys:      len(keys),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		SizeBytes: s.sizeOf(ctx, keys),
	}
}

// InvalidatePattern removes every key matching the glob pattern.
func (s *MemoryStore) InvalidatePattern(ctx context.Context, pattern string) int {
	return s.deleteKeys(matchingKeys(s.allKeys(), pattern), "invalidated")
}

// InvalidateKeys removes the given keys.
func (s *MemoryStore) InvalidateKeys(_ context.Context, keys []string) int {
	return s.deleteKeys(keys, "invalidated")
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *MemoryStore) sizeOf(_ context.Context, keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	for _, k := range keys {
		if it, ok := s.items[k]; ok {
			size += int64(len(k) + len(it.entry.Value))
		}
	}
	return size
}

func (s *MemoryStore) allKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemoryStore) deleteKeys(keys []string, reason string) int {
	removed := 0
	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.items[k]; ok {
			delete(s.items, k)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		if reason != "" {
			cacheEvictions.WithLabelValues(s.name, reason).Add(float64(removed))
		}
		s.mutated()
	}
	return removed
}

// sweep drops expired entries and returns how many were removed
func (s *MemoryStore) sweep() int {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for k, it := range s.items {
		if !it.expires.After(now) {
			delete(s.items, k)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		cacheEvictions.WithLabelValues(s.name, "expired").Add(float64(removed))
		slog.Debug("cache sweep removed expired entries", "store", s.name, "count", removed)
		s.mutated()
	}
	return removed
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) miss() {
	s.misses.Add(1)
	cacheRequests.WithLabelValues(s.name, "miss").Inc()
}

func (s *MemoryStore) mutated() {
	if s.onMutate != nil {
		s.onMutate()
	}
}

// record is the on-disk form of one entry
type record struct {
	Value   Entry `json:"value"`
	Expires int64 `json:"expires"`
	Created int64 `json:"created"`
}

// snapshot returns the unexpired entries as persistable records
func (s *MemoryStore) snapshot() map[string]record {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]record, len(s.items))
	for k, it := range s.items {
		if !it.expires.After(now) {
			continue
		}
		out[k] = record{
			Value:   it.entry,
			Expires: it.expires.UnixMilli(),
			Created: it.created.UnixMilli(),
		}
	}
	return out
}

// restore loads unexpired records without triggering onMutate and returns how many were kept
func (s *MemoryStore) restore(records map[string]record) int {
	now := time.Now()
	kept := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range records {
		expires := time.UnixMilli(rec.Expires)
		if !expires.After(now) {
			continue
		}
		s.items[k] = &item{
			entry:   rec.Value,
			expires: expires,
			created: time.UnixMilli(rec.Created),
		}
		kept++
	}
	return kept
}
