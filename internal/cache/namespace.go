package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// sizer is implemented by stores that can report the size of a set of keys
type sizer interface {
	sizeOf(ctx context.Context, keys []string) int64
}

// Namespaced is a view of a parent store restricted to keys under a prefix.
// Source adapters use it for their own sub-caches ("custom:", "secondary:").
type Namespaced struct {
	parent Store
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
}

// WithPrefix returns a view of parent whose keys are stored as prefix+key.
func WithPrefix(parent Store, prefix string) *Namespaced {
	return &Namespaced{parent: parent, prefix: prefix}
}

// Prefix returns the namespace prefix
func (n *Namespaced) Prefix() string {
	return n.prefix
}

func (n *Namespaced) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	v, ok := n.parent.Get(ctx, n.prefix+key)
	if ok {
		n.hits.Add(1)
	} else {
		n.misses.Add(1)
	}
	return v, ok
}

func (n *Namespaced) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	return n.parent.Set(ctx, n.prefix+key, value, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) int {
	return n.parent.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) Has(ctx context.Context, key string) bool {
	return n.parent.Has(ctx, n.prefix+key)
}

func (n *Namespaced) Keys(ctx context.Context) []string {
	var keys []string
	for _, k := range n.parent.Keys(ctx) {
		if rest, ok := strings.CutPrefix(k, n.prefix); ok {
			keys = append(keys, rest)
		}
	}
	if keys == nil {
		keys = []string{}
	}
	return keys
}

func (n *Namespaced) Clear(ctx context.Context) {
	n.parent.InvalidatePattern(ctx, n.prefix+"*")
}

func (n *Namespaced) Stats(ctx context.Context) Stats {
	keys := n.Keys(ctx)
	st := Stats{
		Keys:   len(keys),
		Hits:   n.hits.Load(),
		Misses: n.misses.Load(),
	}
	if sz, ok := n.parent.(sizer); ok {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = n.prefix + k
		}
		st.SizeBytes = sz.sizeOf(ctx, full)
	}
	return st
}

func (n *Namespaced) InvalidatePattern(ctx context.Context, pattern string) int {
	return n.parent.InvalidatePattern(ctx, n.prefix+pattern)
}

func (n *Namespaced) InvalidateKeys(ctx context.Context, keys []string) int {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = n.prefix + k
	}
	return n.parent.InvalidateKeys(ctx, full)
}

// Close is a no-op; the parent store is owned elsewhere.
func (n *Namespaced) Close() error {
	return nil
}
