package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces every key this store writes.
	DefaultRedisPrefix = "apidirectory:"

	redisScanCount = 500
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Prefix is prepended to every key (defaults to "apidirectory:")
	Prefix string

	// DefaultTTL is applied when Set is called with ttl <= 0 (defaults to 24 hours)
	DefaultTTL time.Duration
}

// RedisStore implements Store on Redis for multi-instance deployments.
// Expiry is delegated to Redis; integrity is verified on read like the other stores.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	slog.Info("redis cache connected", "prefix", prefix, "ttl", ttl)

	return &RedisStore{
		client:     client,
		prefix:     prefix,
		defaultTTL: ttl,
	}, nil
}

func (c *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	cacheRequests.WithLabelValues("redis", "hit").Inc()
	return entry.Value, true
}

// load fetches the entry under key and deletes it when it fails the integrity check
func (c *RedisStore) load(ctx context.Context, key string) (Entry, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("redis cache get failed", "key", key, "error", err)
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || !entry.valid() {
		slog.Warn("cache entry failed integrity check, evicting", "store", "redis", "key", key)
		c.client.Del(ctx, c.prefix+key)
		cacheEvictions.WithLabelValues("redis", "integrity").Inc()
		return Entry{}, false
	}
	return entry, true
}

func (c *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	entry, err := newEntry(value, time.Now())
	if err != nil {
		slog.Warn("cache set failed", "store", "redis", "key", key, "error", err)
		return false
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("cache set failed", "store", "redis", "key", key, "error", err)
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		slog.Warn("redis cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

func (c *RedisStore) Delete(ctx context.Context, key string) int {
	return c.InvalidateKeys(ctx, []string{key})
}

func (c *RedisStore) Has(ctx context.Context, key string) bool {
	_, ok := c.load(ctx, key)
	return ok
}

func (c *RedisStore) Keys(ctx context.Context) []string {
	keys, err := c.scan(ctx)
	if err != nil {
		slog.Warn("redis cache scan failed", "error", err)
		return []string{}
	}
	return keys
}

func (c *RedisStore) Clear(ctx context.Context) {
	c.InvalidateKeys(ctx, c.Keys(ctx))
}

func (c *RedisStore) Stats(ctx context.Context) Stats {
	keys := c.Keys(ctx)
	return Stats{
		Keys:      len(keys),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		SizeBytes: c.sizeOf(ctx, keys),
	}
}

func (c *RedisStore) InvalidatePattern(ctx context.Context, pattern string) int {
	return c.InvalidateKeys(ctx, matchingKeys(c.Keys(ctx), pattern))
}

func (c *RedisStore) InvalidateKeys(ctx context.Context, keys []string) int {
	if len(keys) == 0 {
		return 0
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	n, err := c.client.Del(ctx, full...).Result()
	if err != nil {
		slog.Warn("redis cache delete failed", "error", err)
		return 0
	}
	if n > 0 {
		cacheEvictions.WithLabelValues("redis", "invalidated").Add(float64(n))
	}
	return int(n)
}

// Close closes the Redis connection.
func (c *RedisStore) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *RedisStore) sizeOf(ctx context.Context, keys []string) int64 {
	if len(keys) == 0 {
		return 0
	}
	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.StrLen(ctx, c.prefix+k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0
	}
	var size int64
	for i, cmd := range cmds {
		size += int64(len(keys[i])) + cmd.Val()
	}
	return size
}

func (c *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", redisScanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, c.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *RedisStore) miss() {
	c.misses.Add(1)
	cacheRequests.WithLabelValues("redis", "miss").Inc()
}
