package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// CacheFileName is the snapshot file inside the cache directory
	CacheFileName = "cache.json"

	// InvalidationFlagName is the sentinel file that tells persistent stores to discard their state
	InvalidationFlagName = ".invalidate"

	defaultFlushDelay     = 500 * time.Millisecond
	defaultFlagCheckEvery = time.Second
	lockTimeout           = 5 * time.Second
)

// PersistentConfig configures a PersistentStore
type PersistentConfig struct {
	// Dir holds the snapshot file and the invalidation flag. Created if missing.
	Dir string

	// DefaultTTL is applied when Set is called with ttl <= 0 (defaults to 24 hours)
	DefaultTTL time.Duration

	// SweepFraction sets the background sweep interval as a fraction of DefaultTTL
	// (defaults to 0.1, never more often than once a second)
	SweepFraction float64

	// FlushDelay debounces snapshot writes after mutations (defaults to 500ms)
	FlushDelay time.Duration

	// FlagCheckInterval throttles invalidation flag checks on access (defaults to 1s)
	FlagCheckInterval time.Duration
}

// PersistentStore implements Store with an in-memory map mirrored to a single JSON file.
// Disk failures are logged and never reach callers.
type PersistentStore struct {
	mem       *MemoryStore
	dir       string
	file      string
	flag      string
	fileLock  *flock.Flock
	flushWait time.Duration

	flagMu        sync.Mutex
	flagEvery     time.Duration
	lastFlagCheck time.Time

	writeMu sync.Mutex

	flushMu    sync.Mutex
	flushTimer *time.Timer
	lastHash   uint64
	closed     bool
}

// NewPersistentStore creates the cache directory, honours a pending invalidation flag
// and loads the unexpired records of the previous snapshot.
func NewPersistentStore(cfg PersistentConfig) (*PersistentStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SweepFraction <= 0 {
		cfg.SweepFraction = 0.1
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}
	if cfg.FlagCheckInterval <= 0 {
		cfg.FlagCheckInterval = defaultFlagCheckEvery
	}
	sweep := time.Duration(float64(cfg.DefaultTTL) * cfg.SweepFraction)
	if sweep < time.Second {
		sweep = time.Second
	}

	file := filepath.Join(cfg.Dir, CacheFileName)
	p := &PersistentStore{
		mem: NewMemoryStore(MemoryConfig{
			Name:          "persistent",
			DefaultTTL:    cfg.DefaultTTL,
			SweepInterval: sweep,
		}),
		dir:       cfg.Dir,
		file:      file,
		flag:      filepath.Join(cfg.Dir, InvalidationFlagName),
		fileLock:  flock.New(file + ".lock"),
		flushWait: cfg.FlushDelay,
		flagEvery: cfg.FlagCheckInterval,
	}

	if p.consumeFlag() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove invalidated cache file", "path", file, "error", err)
		}
		slog.Info("cache invalidation flag found, starting empty", "dir", cfg.Dir)
	} else {
		p.load()
	}
	p.lastFlagCheck = time.Now()
	p.mem.onMutate = p.scheduleFlush

	return p, nil
}

// Dir returns the cache directory
func (p *PersistentStore) Dir() string {
	return p.dir
}

func (p *PersistentStore) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	p.checkFlag(ctx)
	return p.mem.Get(ctx, key)
}

func (p *PersistentStore) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	p.checkFlag(ctx)
	return p.mem.Set(ctx, key, value, ttl)
}

func (p *PersistentStore) Delete(ctx context.Context, key string) int {
	p.checkFlag(ctx)
	return p.mem.Delete(ctx, key)
}

func (p *PersistentStore) Has(ctx context.Context, key string) bool {
	p.checkFlag(ctx)
	return p.mem.Has(ctx, key)
}

func (p *PersistentStore) Keys(ctx context.Context) []string {
	p.checkFlag(ctx)
	return p.mem.Keys(ctx)
}

func (p *PersistentStore) Clear(ctx context.Context) {
	p.mem.Clear(ctx)
}

func (p *PersistentStore) Stats(ctx context.Context) Stats {
	p.checkFlag(ctx)
	return p.mem.Stats(ctx)
}

func (p *PersistentStore) InvalidatePattern(ctx context.Context, pattern string) int {
	p.checkFlag(ctx)
	return p.mem.InvalidatePattern(ctx, pattern)
}

func (p *PersistentStore) InvalidateKeys(ctx context.Context, keys []string) int {
	p.checkFlag(ctx)
	return p.mem.InvalidateKeys(ctx, keys)
}

func (p *PersistentStore) sizeOf(ctx context.Context, keys []string) int64 {
	return p.mem.sizeOf(ctx, keys)
}

// CreateInvalidationFlag asks every process holding a store on this directory
// to discard its state on its next check.
func (p *PersistentStore) CreateInvalidationFlag() error {
	return CreateInvalidationFlag(p.dir)
}

// Flush writes the current snapshot to disk immediately.
func (p *PersistentStore) Flush() error {
	p.flushMu.Lock()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	p.flushMu.Unlock()
	return p.write()
}

// Close stops the sweeper and writes a final snapshot.
func (p *PersistentStore) Close() error {
	p.flushMu.Lock()
	if p.closed {
		p.flushMu.Unlock()
		return nil
	}
	p.closed = true
	p.flushMu.Unlock()

	_ = p.mem.Close()
	if err := p.Flush(); err != nil {
		slog.Warn("final cache flush failed", "path", p.file, "error", err)
	}
	return nil
}

// CreateInvalidationFlag writes the zero-byte sentinel into dir.
func CreateInvalidationFlag(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, InvalidationFlagName), nil, 0o644); err != nil {
		return fmt.Errorf("failed to write invalidation flag: %w", err)
	}
	return nil
}

// checkFlag clears the store if the invalidation flag appeared since the last check
func (p *PersistentStore) checkFlag(ctx context.Context) {
	p.flagMu.Lock()
	defer p.flagMu.Unlock()
	if time.Since(p.lastFlagCheck) < p.flagEvery {
		return
	}
	p.lastFlagCheck = time.Now()
	if p.consumeFlag() {
		slog.Info("cache invalidation flag found, clearing cache", "dir", p.dir)
		p.mem.Clear(ctx)
	}
}

// consumeFlag deletes the flag and reports whether it existed
func (p *PersistentStore) consumeFlag() bool {
	if _, err := os.Stat(p.flag); err != nil {
		return false
	}
	if err := os.Remove(p.flag); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove invalidation flag", "path", p.flag, "error", err)
	}
	return true
}

func (p *PersistentStore) load() {
	data, err := os.ReadFile(p.file)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read cache file", "path", p.file, "error", err)
		}
		return
	}

	var records map[string]record
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("cache file is corrupt, starting empty", "path", p.file, "error", err)
		return
	}
	kept := p.mem.restore(records)
	p.lastHash = xxhash.Sum64(data)
	slog.Debug("cache loaded from disk", "path", p.file, "entries", kept, "dropped", len(records)-kept)
}

func (p *PersistentStore) scheduleFlush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	if p.closed || p.flushTimer != nil {
		return
	}
	p.flushTimer = time.AfterFunc(p.flushWait, func() {
		p.flushMu.Lock()
		p.flushTimer = nil
		p.flushMu.Unlock()
		if err := p.write(); err != nil {
			slog.Warn("cache flush failed", "path", p.file, "error", err)
		}
	})
}

// write rewrites the whole snapshot atomically under a cross-process file lock
func (p *PersistentStore) write() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	data, err := json.Marshal(p.mem.snapshot())
	if err != nil {
		cachePersistWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to marshal cache snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := p.fileLock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		cachePersistWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to lock cache file: %w", err)
	}
	defer func() { _ = p.fileLock.Unlock() }()

	sum := xxhash.Sum64(data)
	p.flushMu.Lock()
	unchanged := sum == p.lastHash
	p.flushMu.Unlock()
	if unchanged {
		if _, statErr := os.Stat(p.file); statErr == nil {
			cachePersistWrites.WithLabelValues("unchanged").Inc()
			return nil
		}
	}

	tmpFile := fmt.Sprintf("%s.%s.tmp", p.file, uuid.NewString())
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		cachePersistWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, p.file); err != nil {
		os.Remove(tmpFile)
		cachePersistWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	p.flushMu.Lock()
	p.lastHash = sum
	p.flushMu.Unlock()
	cachePersistWrites.WithLabelValues("written").Inc()
	return nil
}
