package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "quarantine", "nested")
		_, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.ErrorContains(t, err, "not a directory")
	})

	t.Run("DirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(dir, 0o700)
		})
		_, err := local.New(local.Config{Dir: dir})
		assert.ErrorContains(t, err, "not writable")
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	t.Run("NestedPut", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "colhub/2024/03/10/abc.json", "application/json",
			strings.NewReader(`{"url":"x"}`))
		require.NoError(t, err)

		path := filepath.Join(dir, "colhub", "2024", "03", "10", "abc.json")
		assert.Equal(t, "file://"+path, uri)
		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"url":"x"}`, string(data))

		leftovers, err := filepath.Glob(filepath.Join(dir, "colhub", "2024", "03", "10", ".tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.json", "application/json", strings.NewReader("{}"))
		assert.ErrorContains(t, err, "escapes")
	})
}

func TestBrowseObjects(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"q/s1/2024/03/10/b.json", "q/s1/2024/03/10/a.json", "q/s2/c.json", "other/d.json"} {
		_, err := store.PutObject(ctx, p, "application/json", strings.NewReader(p))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q", "s2", ".tmp-c.json-123"), []byte("partial"), 0o600))

	paths, err := store.ListObjects(ctx, "q/")
	require.NoError(t, err)
	assert.Equal(t, []string{"q/s1/2024/03/10/a.json", "q/s1/2024/03/10/b.json", "q/s2/c.json"}, paths)

	data, err := store.GetObject(ctx, "q/s1/2024/03/10/a.json")
	require.NoError(t, err)
	assert.Equal(t, "q/s1/2024/03/10/a.json", string(data))

	require.NoError(t, store.DeleteObject(ctx, "q/s1/2024/03/10/a.json"))
	require.NoError(t, store.DeleteObject(ctx, "q/s1/2024/03/10/b.json"))
	require.NoError(t, store.DeleteObject(ctx, "q/s1/2024/03/10/b.json"))
	assert.NoDirExists(t, filepath.Join(dir, "q", "s1"))
	assert.DirExists(t, dir)

	_, err = store.GetObject(ctx, "q/s1/2024/03/10/a.json")
	assert.ErrorIs(t, err, harvest.ErrObjectNotFound)
	_, err = store.GetObject(ctx, "../outside.json")
	assert.ErrorContains(t, err, "escapes")
}
