package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNamespaced(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryStore(MemoryConfig{})
	defer parent.Close()

	custom := WithPrefix(parent, "custom:")
	secondary := WithPrefix(parent, "secondary:")

	custom.Set(ctx, "list", []string{"a"}, time.Hour)
	custom.Set(ctx, "providers", []string{"p"}, time.Hour)
	secondary.Set(ctx, "list", []string{"b"}, time.Hour)
	parent.Set(ctx, "triple:providers", []string{"x"}, time.Hour)

	assert.True(t, parent.Has(ctx, "custom:list"))
	assert.Equal(t, []string{"list", "providers"}, custom.Keys(ctx))

	got, ok := GetAs[[]string](ctx, secondary, "list")
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, got)

	st := custom.Stats(ctx)
	assert.Equal(t, 2, st.Keys)
	assert.Positive(t, st.SizeBytes)

	assert.Equal(t, 1, custom.InvalidatePattern(ctx, "prov*"))
	assert.Equal(t, 1, custom.InvalidateKeys(ctx, []string{"list"}))
	assert.Empty(t, custom.Keys(ctx))

	secondary.Clear(ctx)
	assert.Equal(t, []string{"triple:providers"}, parent.Keys(ctx))
	assert.NoError(t, custom.Close())
}
