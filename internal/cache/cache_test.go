package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Value int `json:"value"`
}

func backends(t *testing.T) map[string]Cache {
	t.Helper()
	file, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	return map[string]Cache{
		"memory": NewMemory(),
		"file":   file,
	}
}

func TestCache_Contract(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := CounterKey("user-1", "res-1")

			var got counter
			assert.ErrorIs(t, c.Get(key, &got), ErrMiss)

			require.NoError(t, c.Put(key, counter{Value: 3}))
			require.NoError(t, c.Get(key, &got))
			assert.Equal(t, 3, got.Value)

			require.NoError(t, c.Put(key, counter{Value: 4}))
			require.NoError(t, c.Get(key, &got))
			assert.Equal(t, 4, got.Value)

			require.NoError(t, c.Delete(key))
			assert.ErrorIs(t, c.Get(key, &got), ErrMiss)
			assert.ErrorIs(t, c.Delete(key), ErrMiss)
			assert.NoError(t, IgnoreMiss(c.Delete(key)))
		})
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{ProgressKey("u", "r"), "progress:u:r"},
		{CounterKey("u", "r"), "attempt_counter:u:r"},
		{ResultsKey("u", "r"), "results:u:r"},
		{SummaryKey("a1"), "summary:a1"},
		{ScoreKey("a1"), "score:a1"},
		{LocalSummaryKey("u", "r", 3), "local_summary:u:r:3"},
		{AttemptIndexKey("u", "r", 2), "attempt_index:u:r:2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.key.String())
	}
}

func TestMemory_CorruptEntry(t *testing.T) {
	m := NewMemory()
	key := ProgressKey("u", "r")
	m.PutRaw(key, []byte("{oops"))

	var got counter
	assert.ErrorIs(t, m.Get(key, &got), ErrCorrupt)
}

func TestFileCache_CorruptEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	key := ProgressKey("u", "r")
	require.NoError(t, c.Put(key, counter{Value: 1}))

	// Overwrite every file in the collection with garbage.
	entries, err := os.ReadDir(filepath.Join(dir, KindProgress))
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, os.WriteFile(filepath.Join(dir, KindProgress, e.Name()), []byte("]["), 0644))
	}

	var got counter
	assert.ErrorIs(t, c.Get(key, &got), ErrCorrupt)
}
