package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintOrderIndependentDeps(t *testing.T) {
	a := Fingerprint([]byte("body"), "x", "y")
	b := Fingerprint([]byte("body"), "y", "x")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint([]byte("body")))
	assert.NotEqual(t, a, Fingerprint([]byte("body2"), "x", "y"))
}

func TestCheckerStale(t *testing.T) {
	for name, open := range map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache", "fp.db"))
			require.NoError(t, err)
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "main.scss")
			out := filepath.Join(dir, "main.css")
			require.NoError(t, os.WriteFile(src, []byte("a{}"), 0o600))

			c := NewChecker(open(t))
			defer func() { _ = c.Close() }()
			ctx := t.Context()
			fp := Fingerprint([]byte("a{}"))

			stale, err := c.Stale(ctx, "sass", src, fp, out)
			require.NoError(t, err)
			assert.True(t, stale, "no entry yet")

			require.NoError(t, os.WriteFile(out, []byte("a{}"), 0o600))
			require.NoError(t, c.Record(ctx, "sass", src, fp))

			stale, err = c.Stale(ctx, "sass", src, fp, out)
			require.NoError(t, err)
			assert.False(t, stale)

			stale, err = c.Stale(ctx, "sass", src, Fingerprint([]byte("b{}")), out)
			require.NoError(t, err)
			assert.True(t, stale, "fingerprint changed")

			stale, err = c.Stale(ctx, "other", src, fp, out)
			require.NoError(t, err)
			assert.True(t, stale, "buckets are independent")

			past := time.Now().Add(-time.Hour)
			require.NoError(t, os.Chtimes(out, past, past))
			stale, err = c.Stale(ctx, "sass", src, fp, out)
			require.NoError(t, err)
			assert.True(t, stale, "output older than source")

			require.NoError(t, os.Remove(out))
			stale, err = c.Stale(ctx, "sass", src, fp, out)
			require.NoError(t, err)
			assert.True(t, stale, "output missing")
		})
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fp.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(t.Context(), "images", "a.png", "one"))
	require.NoError(t, s.Put(t.Context(), "images", "a.png", "two"))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	fp, ok, err := s.Get(t.Context(), "images", "a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", fp)

	_, ok, err = s.Get(t.Context(), "images", "b.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenEmptyPathIsMemory(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	_, isMem := s.(*MemoryStore)
	assert.True(t, isMem)
}
