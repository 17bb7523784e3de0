package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apidirectory/config"
	"apidirectory/internal/cache"
	"apidirectory/internal/core"
	"apidirectory/internal/sources/custom"
)

const widgetSpec = `openapi: 3.0.0
info:
  title: Widgets
  version: "1.0"
paths:
  /widgets:
    get:
      summary: List widgets
      responses:
        "200":
          description: ok
`

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/providers.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":["example.com"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	cfg.Sources.PrimaryBaseURL = newDirectoryServer(t).URL
	cfg.Sources.RateLimit = 0
	return cfg
}

func get(t *testing.T, a *App, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_PersistentBackend(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	rec := get(t, a, "/v1/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["example.com"]}`, rec.Body.String())

	require.NoError(t, a.Shutdown(context.Background()))
	_, err = os.Stat(filepath.Join(cfg.Cache.Dir, cache.CacheFileName))
	assert.NoError(t, err, "shutdown writes the final snapshot")

	// a second shutdown is a no-op
	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_SubCacheNamespaces(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.BackendMemory
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	_, err = a.Engine().GetProviders(context.Background())
	require.NoError(t, err)

	keys := a.cache.Keys(context.Background())
	assert.Contains(t, keys, "triple:providers")
	assert.Contains(t, keys, "primary:providers")
}

func TestNew_DisabledCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Disabled = true
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	_, err = a.Engine().GetProviders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, a.cache.Keys(context.Background()))
}

func TestNew_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	_, err = a.Engine().GetProviders(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestNew_CustomSourceTakesPrecedence(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources.CustomDir = t.TempDir()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	assert.Equal(t, []string{core.SourceCustom, core.SourcePrimary}, a.Engine().Sources())
	require.NotNil(t, a.Custom())

	_, err = a.Custom().Import(context.Background(), custom.ImportRequest{
		Provider: "internal.dev",
		Data:     []byte(widgetSpec),
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Cache.Dir, cache.InvalidationFlagName))
	assert.NoError(t, err, "imports raise the invalidation flag of the persistent cache")

	rec := get(t, a, "/v1/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["example.com","internal.dev"]}`, rec.Body.String())
}

func TestShutdown_RespectsContext(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Shutdown(ctx))
}
