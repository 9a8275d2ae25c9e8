package streamcache

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testCacheDir = "/streamcache-test"

func TestMain(t *testing.M) {
	code := t.Run()

	os.Exit(code)
}

func fixedNowFunc() time.Time {
	return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
}

// setupTestCache opens a cache on a fresh in-memory filesystem.
func setupTestCache(t *testing.T, options ...Option) (*Cache, afero.Fs) {
	t.Helper()

	memFs := afero.NewMemMapFs()
	cache, err := Open(testCacheDir, append([]Option{WithFs(memFs)}, options...)...)
	require.NoError(t, err, "Failed to open cache")
	return cache, memFs
}

// spillPaths returns the paths of every spill file in the cache directory.
func spillPaths(t *testing.T, cache *Cache) []string {
	t.Helper()

	files, err := cache.SpillFiles()
	require.NoError(t, err)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// patterned returns n bytes that differ from one position to the next, so
// offset mistakes show up as content mismatches.
func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
