// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the API directory server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"apidirectory/config"
	"apidirectory/internal/aggregate"
	"apidirectory/internal/cache"
	"apidirectory/internal/core"
	"apidirectory/internal/httpclient"
	"apidirectory/internal/pkg/dirclient"
	"apidirectory/internal/server"
	"apidirectory/internal/sources/custom"
	"apidirectory/internal/sources/directory"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config *config.Config
	cache  cache.Store
	custom *custom.Store
	engine *aggregate.Engine
	server *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	app := &App{config: cfg}

	store, err := newCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = store

	engineCfg := aggregate.Config{Cache: store}
	if cfg.Sources.PrimaryBaseURL != "" {
		engineCfg.Primary, err = newDirectory(core.SourcePrimary, cfg.Sources.PrimaryBaseURL, cfg.Sources, store)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to initialize primary source: %w", err), store.Close())
		}
	}
	if cfg.Sources.SecondaryBaseURL != "" {
		engineCfg.Secondary, err = newDirectory(core.SourceSecondary, cfg.Sources.SecondaryBaseURL, cfg.Sources, store)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to initialize secondary source: %w", err), store.Close())
		}
	}
	if cfg.Sources.CustomDir != "" {
		cacheDir := ""
		if !cfg.Cache.Disabled && cfg.Cache.Backend == config.BackendPersistent {
			cacheDir = cfg.Cache.Dir
		}
		app.custom, err = custom.New(custom.Config{
			Dir:      cfg.Sources.CustomDir,
			Cache:    cache.WithPrefix(store, core.SourceCustom+":"),
			CacheDir: cacheDir,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to initialize custom source: %w", err), store.Close())
		}
		engineCfg.Custom = app.custom
	}

	app.engine, err = aggregate.New(engineCfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize aggregation engine: %w", err), store.Close())
	}

	app.server = server.New(app.engine, &server.Config{
		AdminKey:        cfg.Server.AdminKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
	})

	app.logStartupInfo()
	return app, nil
}

// newCache builds the root store shared by the engine and the source sub-caches
func newCache(cfg config.CacheConfig) (cache.Store, error) {
	if cfg.Disabled {
		return cache.NewNopStore(), nil
	}
	switch cfg.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(cache.MemoryConfig{
			DefaultTTL:    cfg.DefaultTTL,
			SweepInterval: cfg.SweepInterval(),
		}), nil
	case config.BackendRedis:
		return cache.NewRedisStore(cache.RedisConfig{
			URL:        cfg.RedisURL,
			DefaultTTL: cfg.DefaultTTL,
		})
	default:
		return cache.NewPersistentStore(cache.PersistentConfig{
			Dir:        cfg.Dir,
			DefaultTTL: cfg.DefaultTTL,
		})
	}
}

// newDirectory builds an HTTP directory source caching under "{name}:"
func newDirectory(name, baseURL string, cfg config.SourcesConfig, store cache.Store) (*directory.Source, error) {
	httpCfg := httpclient.WithTimeout(cfg.Timeout)
	clientCfg := dirclient.DefaultConfig(name, baseURL)
	clientCfg.RateLimit = cfg.RateLimit

	return directory.New(directory.Config{
		Name:   name,
		Client: dirclient.NewWithHTTPClient(httpclient.NewHTTPClient(&httpCfg), clientCfg),
		Cache:  cache.WithPrefix(store, name+":"),
	})
}

// Engine returns the aggregation engine.
func (a *App) Engine() *aggregate.Engine {
	return a.engine
}

// Custom returns the custom spec store, or nil when no custom directory is configured.
func (a *App) Custom() *custom.Store {
	return a.custom
}

// Handler returns the HTTP handler of the read API.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the cache, which writes its final snapshot.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("sources configured", "precedence", a.engine.Sources())

	if cfg.Cache.Disabled {
		slog.Warn("cache disabled, every request reaches the sources")
	} else {
		attrs := []any{"backend", cfg.Cache.Backend, "default_ttl", cfg.Cache.DefaultTTL}
		if cfg.Cache.Backend == config.BackendPersistent {
			attrs = append(attrs, "dir", cfg.Cache.Dir)
		}
		slog.Info("cache enabled", attrs...)
	}

	if cfg.Server.AdminKey == "" {
		slog.Warn("ADMIN_KEY not set, cache administration is unauthenticated")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
