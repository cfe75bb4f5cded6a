package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func read(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

var key = Key{Workspace: "ws", Ref: "main", Job: "compile"}

func TestKeyHashSeparatesParts(t *testing.T) {
	a := Key{Workspace: "ws", Ref: "main", Job: "ab"}
	b := Key{Workspace: "ws", Ref: "maina", Job: "b"}
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Hash(), Key{Workspace: "ws", Ref: "main", Job: "ab"}.Hash())
	assert.NotEqual(t, a.Hash(), Key{Workspace: "ws", Ref: "main", Job: "ab", Suffix: "x"}.Hash())
	assert.Len(t, a.Hash(), 32)
	assert.Equal(t, "ws@main/ab#x", Key{Workspace: "ws", Ref: "main", Job: "ab", Suffix: "x"}.String())
}

func TestRestoreMissIsEmpty(t *testing.T) {
	s := New(t.TempDir(), 2, nil)
	dest := filepath.Join(t.TempDir(), "cache")
	res, err := s.Restore(context.Background(), key, dest)
	require.NoError(t, err)
	assert.False(t, res.Hit)
	assert.DirExists(t, dest)
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 2, nil)
	src := t.TempDir()
	write(t, src, "deps/a.txt", "one")

	v1, err := s.Persist(ctx, key, src, nil)
	require.NoError(t, err)
	cur, ok := s.Current(key)
	require.True(t, ok)
	assert.Equal(t, v1, cur)

	dest := t.TempDir()
	res, err := s.Restore(ctx, key, dest)
	require.NoError(t, err)
	assert.True(t, res.Hit)
	assert.Equal(t, v1, res.Version)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, "one", read(t, dest, "deps/a.txt"))

	// Other keys never see this cache.
	res, err = s.Restore(ctx, Key{Workspace: "ws", Ref: "dev", Job: "compile"}, t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Hit)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, keys)
}

func TestPersistSelectedPaths(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 2, nil)
	work := t.TempDir()
	write(t, work, "node_modules/pkg/index.js", "js")
	write(t, work, "src/app.js", "app")

	_, err := s.Persist(ctx, key, work, []string{"node_modules"})
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = s.Restore(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, "js", read(t, dest, "node_modules/pkg/index.js"))
	assert.NoFileExists(t, filepath.Join(dest, "src", "app.js"))
}

func TestLastWriterWinsAndOldVersionsCollected(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 2, nil)

	var last string
	for _, content := range []string{"v1", "v2", "v3", "v4"} {
		src := t.TempDir()
		write(t, src, "f", content)
		v, err := s.Persist(ctx, key, src, nil)
		require.NoError(t, err)
		last = v
	}

	versions, err := s.Versions(key)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Equal(t, last, versions[len(versions)-1])

	dest := t.TempDir()
	_, err = s.Restore(ctx, key, dest)
	require.NoError(t, err)
	assert.Equal(t, "v4", read(t, dest, "f"))
}

func TestConcurrentPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 1, nil)
	src := t.TempDir()
	write(t, src, "f", "same")
	_, err := s.Persist(ctx, key, src, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Persist(ctx, key, src, nil)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			dest := t.TempDir()
			res, err := s.Restore(ctx, key, dest)
			assert.NoError(t, err)
			if assert.True(t, res.Hit) {
				assert.Equal(t, "same", read(t, dest, "f"))
			}
		}()
	}
	wg.Wait()
}

func TestPersistErrorIsCacheCategory(t *testing.T) {
	s := New(t.TempDir(), 2, nil)
	_, err := s.Persist(context.Background(), key, filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryCache))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir(), 2, nil)
	src := t.TempDir()
	write(t, src, "f", "x")
	_, err := s.Persist(ctx, key, src, nil)
	require.NoError(t, err)
	require.NoError(t, s.Clear(key))
	_, ok := s.Current(key)
	assert.False(t, ok)
}
