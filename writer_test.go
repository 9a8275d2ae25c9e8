package streamcache

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wantMode Mode
	}{
		{name: "in memory", size: 512, wantMode: ModeMemory},
		{name: "spilled", size: 64 * 1024, wantMode: ModeFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, _ := setupTestCache(t, WithMaxInstanceMemory(4096), WithChunkSize(1000))
			data := patterned(tt.size)

			w := cache.NewWriter(nil)
			// Write in uneven pieces to cross chunk and spill boundaries mid-write.
			for off := 0; off < len(data); off += 333 {
				end := min(off+333, len(data))
				n, err := w.Write(data[off:end])
				require.NoError(t, err)
				require.Equal(t, end-off, n)
			}
			assert.Equal(t, tt.wantMode, w.Mode())
			assert.Equal(t, int64(tt.size), w.Size())

			r, err := w.Reader()
			require.NoError(t, err)
			defer r.Dispose()

			assert.True(t, r.Replayable())
			assert.Equal(t, data, readAll(t, r))
		})
	}
}

func TestWriterSpillThreshold(t *testing.T) {
	const limit = 100

	tests := []struct {
		name     string
		size     int
		wantMode Mode
	}{
		{name: "exactly at limit", size: limit, wantMode: ModeMemory},
		{name: "one byte over", size: limit + 1, wantMode: ModeFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, memFs := setupTestCache(t, WithMaxInstanceMemory(limit))
			data := patterned(tt.size)

			w := cache.NewWriter(nil)
			_, err := w.Write(data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, w.Mode())

			paths := spillPaths(t, cache)
			if tt.wantMode == ModeMemory {
				assert.Empty(t, paths)
				assert.Equal(t, int64(tt.size), cache.CurrentPoolMemory())
				return
			}

			require.Len(t, paths, 1)
			onDisk, err := afero.ReadFile(memFs, paths[0])
			require.NoError(t, err)
			assert.Equal(t, data, onDisk, "spill file content")
			assert.Zero(t, cache.CurrentPoolMemory(), "spilled entry still counted in memory")

			require.NoError(t, w.Dispose())
			exists, err := afero.Exists(memFs, paths[0])
			require.NoError(t, err)
			assert.False(t, exists, "spill file left after Dispose")
		})
	}
}

func TestWriterSpillsMidStream(t *testing.T) {
	cache, _ := setupTestCache(t, WithMaxInstanceMemory(10))

	w := cache.NewWriter(nil)
	_, err := w.WriteString("Hello")
	require.NoError(t, err)
	assert.True(t, w.InMemory())

	_, err = w.WriteString("World!")
	require.NoError(t, err)
	assert.Equal(t, ModeFile, w.Mode())

	r, err := w.Reader()
	require.NoError(t, err)
	defer r.Dispose()

	assert.Equal(t, "HelloWorld!", string(readAll(t, r)))
	require.NoError(t, r.Rewind())
	assert.Equal(t, "HelloWorld!", string(readAll(t, r)))
}

func TestWriterPassThrough(t *testing.T) {
	cache, _ := setupTestCache(t, WithMaxInstanceMemory(8))

	var downstream bytes.Buffer
	w := cache.NewWriter(&downstream)
	_, err := w.WriteString("pass ")
	require.NoError(t, err)
	_, err = w.WriteString("through and spill")
	require.NoError(t, err)

	assert.Equal(t, "pass through and spill", downstream.String())

	r, err := w.Reader()
	require.NoError(t, err)
	defer r.Dispose()
	assert.Equal(t, "pass through and spill", string(readAll(t, r)))
}

func TestWriterPassThroughError(t *testing.T) {
	cache, _ := setupTestCache(t)
	boom := errors.New("downstream broken")

	w := cache.NewWriter(failingWriter{err: boom})
	n, err := w.WriteString("cached anyway")

	var ptErr *PassThroughError
	require.ErrorAs(t, err, &ptErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, len("cached anyway"), n, "cached bytes must be reported")

	r, err := w.Reader()
	require.NoError(t, err)
	defer r.Dispose()
	assert.Equal(t, "cached anyway", string(readAll(t, r)))
}

func TestWriterFlushesDownstream(t *testing.T) {
	cache, _ := setupTestCache(t)

	var sink bytes.Buffer
	buffered := bufio.NewWriter(&sink)
	w := cache.NewWriter(buffered)

	_, err := w.WriteString("buffered")
	require.NoError(t, err)
	assert.Zero(t, sink.Len(), "bufio should still hold the bytes")

	require.NoError(t, w.Close())
	assert.Equal(t, "buffered", sink.String())
	require.NoError(t, w.Dispose())
}

func TestWriterLifecycleErrors(t *testing.T) {
	t.Run("write after close", func(t *testing.T) {
		cache, _ := setupTestCache(t)
		w := cache.NewWriter(nil)
		require.NoError(t, w.Close())
		require.NoError(t, w.Close(), "Close must be idempotent")

		_, err := w.WriteString("late")
		assert.ErrorIs(t, err, ErrClosed)

		// Content written before Close stays available.
		r, err := w.Reader()
		require.NoError(t, err)
		assert.True(t, r.IsCacheEmpty())
		require.NoError(t, r.Dispose())
	})

	t.Run("second reader", func(t *testing.T) {
		cache, _ := setupTestCache(t)
		w := cache.NewWriter(nil)
		_, _ = w.WriteString("once")

		r, err := w.Reader()
		require.NoError(t, err)
		defer r.Dispose()

		_, err = w.Reader()
		assert.ErrorIs(t, err, ErrTransferred)

		_, err = w.WriteString("more")
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("dispose after transfer", func(t *testing.T) {
		cache, _ := setupTestCache(t)
		w := cache.NewWriter(nil)
		_, _ = w.WriteString("owned by reader")

		r, err := w.Reader()
		require.NoError(t, err)
		require.NoError(t, w.Dispose())

		assert.Equal(t, "owned by reader", string(readAll(t, r)))
		require.NoError(t, r.Dispose())
	})

	t.Run("write after dispose", func(t *testing.T) {
		cache, _ := setupTestCache(t)
		w := cache.NewWriter(nil)
		require.NoError(t, w.Dispose())
		require.NoError(t, w.Dispose(), "Dispose must be idempotent")

		_, err := w.WriteString("gone")
		assert.ErrorIs(t, err, ErrDisposed)
		_, err = w.Reader()
		assert.ErrorIs(t, err, ErrDisposed)
		assert.Equal(t, ModeDisposed, w.Mode())
	})
}

func TestWriterDiscardOnClose(t *testing.T) {
	cache, memFs := setupTestCache(t, WithDiscardOnClose(true), WithMaxInstanceMemory(4))

	w := cache.NewWriter(nil)
	_, err := w.WriteString("spilled then discarded")
	require.NoError(t, err)
	paths := spillPaths(t, cache)
	require.Len(t, paths, 1)

	require.NoError(t, w.Close())
	assert.Equal(t, ModeDisposed, w.Mode())

	_, err = w.Reader()
	assert.ErrorIs(t, err, ErrDisposed)

	exists, err := afero.Exists(memFs, paths[0])
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriterReadFrom(t *testing.T) {
	cache, _ := setupTestCache(t, WithMaxInstanceMemory(16))
	data := patterned(1000)

	w := cache.NewWriter(nil)
	n, err := w.ReadFrom(iotest.HalfReader(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	for _, c := range []byte("!?") {
		require.NoError(t, w.WriteByte(c))
	}

	r, err := w.Reader()
	require.NoError(t, err)
	defer r.Dispose()

	got := readAll(t, r)
	assert.Equal(t, append(data, "!?"...), got)
}

func TestWriterReadFromError(t *testing.T) {
	cache, _ := setupTestCache(t)
	boom := errors.New("source failed")

	w := cache.NewWriter(nil)
	defer w.Dispose()

	n, err := w.ReadFrom(iotest.TimeoutReader(strings.NewReader("abc")))
	assert.ErrorIs(t, err, iotest.ErrTimeout)
	assert.Equal(t, int64(3), n)

	_, err = w.ReadFrom(iotest.ErrReader(boom))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), w.Size())
}
