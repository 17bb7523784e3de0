package aggregate

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"apidirectory/internal/cache"
)

// CacheStats reports the statistics of the engine's cache
func (e *Engine) CacheStats(ctx context.Context) cache.Stats {
	return e.cache.Stats(ctx)
}

// InvalidateCache removes every key matching the glob pattern and returns how many were removed
func (e *Engine) InvalidateCache(ctx context.Context, pattern string) int {
	n := e.cache.InvalidatePattern(ctx, pattern)
	slog.Info("cache invalidated", "pattern", pattern, "removed", n)
	return n
}

// ClearCache removes every entry
func (e *Engine) ClearCache(ctx context.Context) {
	e.cache.Clear(ctx)
	slog.Info("cache cleared")
}

// WarmCache pre-fills the providers, list and metrics entries
func (e *Engine) WarmCache(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.GetProviders(ctx)
		return err
	})
	g.Go(func() error {
		_, err := e.ListAPIs(ctx)
		return err
	})
	g.Go(func() error {
		_, err := e.GetMetrics(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("cache warmed", "sources", e.Sources())
	return nil
}
