package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistent(t *testing.T, dir string) *PersistentStore {
	t.Helper()
	p, err := NewPersistentStore(PersistentConfig{
		Dir:               dir,
		FlushDelay:        5 * time.Millisecond,
		FlagCheckInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return p
}

func readSnapshot(t *testing.T, dir string) map[string]record {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, CacheFileName))
	require.NoError(t, err)
	var records map[string]record
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestPersistentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesDirectoryIfNeeded", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		p := newTestPersistent(t, dir)
		defer p.Close()

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("SurvivesRestart", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		require.True(t, p.Set(ctx, "triple:providers", map[string][]string{"data": {"a", "b"}}, time.Hour))
		require.NoError(t, p.Close())

		reopened := newTestPersistent(t, dir)
		defer reopened.Close()

		got, ok := GetAs[map[string][]string](ctx, reopened, "triple:providers")
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, got["data"])
	})

	t.Run("MutationsAreWrittenInBackground", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		defer p.Close()

		p.Set(ctx, "k", "v", time.Hour)
		assert.Eventually(t, func() bool {
			data, err := os.ReadFile(filepath.Join(dir, CacheFileName))
			if err != nil {
				return false
			}
			var records map[string]record
			return json.Unmarshal(data, &records) == nil && len(records) == 1
		}, time.Second, 5*time.Millisecond)

		rec := readSnapshot(t, dir)["k"]
		assert.Greater(t, rec.Expires, rec.Created)
		assert.NotEmpty(t, rec.Value.Integrity)
	})

	t.Run("ExpiredRecordsAreDroppedOnLoad", func(t *testing.T) {
		dir := t.TempDir()
		live, err := newEntry("live", time.Now())
		require.NoError(t, err)
		dead, err := newEntry("dead", time.Now())
		require.NoError(t, err)

		now := time.Now()
		records := map[string]record{
			"live": {Value: live, Expires: now.Add(time.Hour).UnixMilli(), Created: now.UnixMilli()},
			"dead": {Value: dead, Expires: now.Add(-time.Hour).UnixMilli(), Created: now.Add(-2 * time.Hour).UnixMilli()},
		}
		data, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), data, 0o644))

		p := newTestPersistent(t, dir)
		defer p.Close()

		assert.Equal(t, []string{"live"}, p.Keys(ctx))
	})

	t.Run("CorruptFileStartsEmpty", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), []byte("{not json"), 0o644))

		p := newTestPersistent(t, dir)
		defer p.Close()

		assert.Empty(t, p.Keys(ctx))
		assert.True(t, p.Set(ctx, "k", 1, 0))
	})

	t.Run("TamperedRecordOnDiskIsEvicted", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		p.Set(ctx, "k", map[string]int{"numSpecs": 4}, time.Hour)
		require.NoError(t, p.Close())

		records := readSnapshot(t, dir)
		rec := records["k"]
		rec.Value.Value = json.RawMessage(`{"numSpecs":400}`)
		records["k"] = rec
		data, err := json.Marshal(records)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, CacheFileName), data, 0o644))

		reopened := newTestPersistent(t, dir)
		defer reopened.Close()

		_, ok := reopened.Get(ctx, "k")
		assert.False(t, ok)
		assert.False(t, reopened.Has(ctx, "k"))
	})

	t.Run("InvalidationFlagOnStartup", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		p.Set(ctx, "a", 1, time.Hour)
		p.Set(ctx, "b", 2, time.Hour)
		require.NoError(t, p.Close())

		require.NoError(t, p.CreateInvalidationFlag())
		_, err := os.Stat(filepath.Join(dir, InvalidationFlagName))
		require.NoError(t, err)

		reopened := newTestPersistent(t, dir)
		defer reopened.Close()

		assert.Empty(t, reopened.Keys(ctx))
		_, err = os.Stat(filepath.Join(dir, InvalidationFlagName))
		assert.True(t, os.IsNotExist(err), "flag should be consumed")
	})

	t.Run("InvalidationFlagOnAccess", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		defer p.Close()

		p.Set(ctx, "a", 1, time.Hour)
		require.NoError(t, CreateInvalidationFlag(dir))
		time.Sleep(5 * time.Millisecond)

		_, ok := p.Get(ctx, "a")
		assert.False(t, ok)
		_, err := os.Stat(filepath.Join(dir, InvalidationFlagName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("FlushSkipsUnchangedSnapshot", func(t *testing.T) {
		dir := t.TempDir()
		p := newTestPersistent(t, dir)
		defer p.Close()

		p.Set(ctx, "k", "v", time.Hour)
		require.NoError(t, p.Flush())
		first, err := os.Stat(filepath.Join(dir, CacheFileName))
		require.NoError(t, err)

		require.NoError(t, p.Flush())
		second, err := os.Stat(filepath.Join(dir, CacheFileName))
		require.NoError(t, err)
		assert.Equal(t, first.ModTime(), second.ModTime())
	})

	t.Run("RequiresDirectory", func(t *testing.T) {
		_, err := NewPersistentStore(PersistentConfig{})
		assert.Error(t, err)
	})
}
