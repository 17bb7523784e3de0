// Package aggregate merges the custom, secondary and primary directories into one read API.
//
// Every operation is wrapped in a cache lookup under the "triple:" namespace. On a miss the
// engine either fans out to all sources concurrently and merges the successful answers, or
// walks the sources in precedence order (custom, secondary, primary) until one of them owns
// the requested provider or API.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"apidirectory/internal/cache"
	"apidirectory/internal/core"
)

// KeyPrefix namespaces every engine cache key
const KeyPrefix = "triple:"

const (
	defaultSearchPages = 20
	searchPageSize     = 100
	maxLimit           = 100
)

// TTLs holds the cache lifetime of each operation class
type TTLs struct {
	Providers time.Duration // providers, list
	Provider  time.Duration // provider, services
	API       time.Duration // api, summary
	Spec      time.Duration // spec, endpoint details
	Endpoints time.Duration
	Search    time.Duration
	Popular   time.Duration
	Recent    time.Duration
	Metrics   time.Duration
}

// DefaultTTLs returns the engine's default TTL table
func DefaultTTLs() TTLs {
	return TTLs{
		Providers: 24 * time.Hour,
		Provider:  12 * time.Hour,
		API:       8 * time.Hour,
		Spec:      8 * time.Hour,
		Endpoints: 8 * time.Hour,
		Search:    10 * time.Minute,
		Popular:   30 * time.Minute,
		Recent:    15 * time.Minute,
		Metrics:   time.Hour,
	}
}

// Config wires the engine. A nil source is not configured and is skipped.
type Config struct {
	Primary   core.Source
	Secondary core.Source
	Custom    core.Source

	// Cache holds the merged results. Nil disables caching.
	Cache cache.Store
	TTLs  TTLs

	// SearchPages caps how many pages of the primary's native search are merged (default 20)
	SearchPages int
}

// Engine aggregates the configured sources
type Engine struct {
	// sources in precedence order, highest first
	sources []core.Source
	primary core.Source

	cache       cache.Store
	ttls        TTLs
	searchPages int

	fills singleflight.Group
}

// New creates an engine. At least one source must be configured.
func New(cfg Config) (*Engine, error) {
	var sources []core.Source
	for _, src := range []core.Source{cfg.Custom, cfg.Secondary, cfg.Primary} {
		if src != nil {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source must be configured")
	}

	store := cfg.Cache
	if store == nil {
		store = cache.NewNopStore()
	}
	ttls := cfg.TTLs
	if ttls == (TTLs{}) {
		ttls = DefaultTTLs()
	}
	pages := cfg.SearchPages
	if pages <= 0 {
		pages = defaultSearchPages
	}

	return &Engine{
		sources:     sources,
		primary:     cfg.Primary,
		cache:       store,
		ttls:        ttls,
		searchPages: pages,
	}, nil
}

// Sources returns the names of the configured sources in precedence order
func (e *Engine) Sources() []string {
	names := make([]string, len(e.sources))
	for i, src := range e.sources {
		names[i] = src.Name()
	}
	return names
}

// outcome is the result of one source call during a fan-out
type outcome[T any] struct {
	source string
	value  T
	err    error
}

// fanOut calls every source concurrently and returns the outcomes in precedence order.
// A failing or panicking source never affects the others.
func fanOut[T any](ctx context.Context, e *Engine, op string, call func(context.Context, core.Source) (T, error)) []outcome[T] {
	outcomes := make([]outcome[T], len(e.sources))
	var g errgroup.Group
	for i, src := range e.sources {
		g.Go(func() error {
			outcomes[i].source = src.Name()
			outcomes[i].value, outcomes[i].err = guard(src, func() (T, error) { return call(ctx, src) })
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		e.observe(op, o.source, o.err)
	}
	return outcomes
}

// observe records the result of one source call
// guard runs call and turns a panic raised by src into an error
func guard[T any](src core.Source, call func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()
	return call()
}

func (e *Engine) observe(op, source string, err error) {
	result := "success"
	switch {
	case err == nil:
	case core.IsNotFound(err):
		result = "not_found"
	default:
		result = "error"
		slog.Warn("source call failed", "source", source, "op", op, "error", err)
	}
	sourceCalls.WithLabelValues(source, op, result).Inc()
}

// succeeded reports whether at least one outcome has no error
func succeeded[T any](outcomes []outcome[T]) bool {
	for _, o := range outcomes {
		if o.err == nil {
			return true
		}
	}
	return false
}

// cached serves key from the cache or runs fill once for all concurrent callers.
// fill reports whether its value may be stored; degraded results are returned uncached.
func cached[T any](ctx context.Context, e *Engine, key string, ttl time.Duration, fill func(context.Context) (T, bool, error)) (T, error) {
	if v, ok := cache.GetAs[T](ctx, e.cache, key); ok {
		return v, nil
	}

	v, err, shared := e.fills.Do(key, func() (any, error) {
		// waiting callers share this fill; it must not inherit one caller's cancellation
		fillCtx := context.WithoutCancel(ctx)
		v, store, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}
		if store {
			e.cache.Set(fillCtx, key, v, ttl)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out := v.(T)
	if shared {
		return clone(out), nil
	}
	return out, nil
}

// clone deep-copies v so callers sharing one fill never alias each other
func clone[T any](v T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// fallbackChain walks the sources in precedence order. Non-primary sources are asked
// whether they hold the id and only fetched when they claim it; the primary is fetched directly.
// Each source is tried with every id in ids before moving on.
// When every source fails the primary's error is returned.
func fallbackChain[T any](
	ctx context.Context,
	e *Engine,
	op string,
	ids []string,
	claims func(context.Context, core.Source, string) (bool, error),
	fetch func(context.Context, core.Source, string) (T, error),
) (T, string, error) {
	var zero T
	var primaryErr, lastErr error

	for _, src := range e.sources {
		isPrimary := src == e.primary
	tier:
		for _, id := range ids {
			if !isPrimary {
				ok, err := guard(src, func() (bool, error) { return claims(ctx, src, id) })
				if err != nil {
					e.observe(op+".has", src.Name(), err)
					lastErr = err
					break tier
				}
				if !ok {
					continue
				}
			}

			v, err := guard(src, func() (T, error) { return fetch(ctx, src, id) })
			e.observe(op, src.Name(), err)
			if err == nil {
				return v, src.Name(), nil
			}
			lastErr = err
			if isPrimary {
				primaryErr = err
			}
			if !core.IsNotFound(err) {
				break tier
			}
		}
	}

	switch {
	case primaryErr != nil:
		return zero, "", primaryErr
	case e.primary == nil && lastErr != nil && !core.IsNotFound(lastErr):
		return zero, "", lastErr
	default:
		return zero, "", core.NewNotFoundError("", fmt.Sprintf("%s not found in any source", ids[0]))
	}
}

// candidates returns apiID followed by its unversioned prefix, if any
func candidates(apiID string) []string {
	if prefix, ok := core.APIPrefix(apiID); ok {
		return []string{apiID, prefix}
	}
	return []string{apiID}
}

func hasAPI(ctx context.Context, src core.Source, id string) (bool, error) {
	return src.HasAPI(ctx, id)
}

func hasProvider(ctx context.Context, src core.Source, provider string) (bool, error) {
	return src.HasProvider(ctx, provider)
}

func required(field, value string) error {
	if value == "" {
		return core.NewValidationError(field + " is required")
	}
	return nil
}

func validatePage(page, limit int) error {
	if page < 1 {
		return core.NewValidationError("page must be at least 1")
	}
	return validateLimit(limit)
}

func validateLimit(limit int) error {
	if limit < 1 || limit > maxLimit {
		return core.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return nil
}
