package streamcache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Mode is the storage state of cached content.
type Mode int32

const (
	// ModeMemory means the content lives in a ChunkedBuffer.
	ModeMemory Mode = iota
	// ModeFile means the content was spilled to a temporary file.
	ModeFile
	// ModeDisposed means the content was released.
	ModeDisposed
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeMemory:
		return "memory"
	case ModeFile:
		return "file"
	case ModeDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Spill file names look like "streamcache-<scope>-<uuid>-temp", where the
// scope is the cache name ("default" when unnamed).
const (
	spillPrefix  = "streamcache-"
	spillSuffix  = "-temp"
	defaultScope = "default"
)

// entry holds the bytes captured by one Reader or Writer and decides when
// they move from memory to a temporary file. Transitions only go
// memory -> file -> disposed.
//
// Only the owning Reader or Writer touches an entry, except for mode and
// resident, which the pool reads from other goroutines.
type entry struct {
	id    uuid.UUID
	cache *Cache

	mode     atomic.Int32
	resident atomic.Int64

	mem  *ChunkedBuffer // nil once spilled
	file afero.File     // nil while in memory
	path string
	size int64

	sinceCheck  int64 // bytes written since the pool was last sampled
	poolCeiling int64

	err error // sticky spill failure
}

func (e *entry) Mode() Mode {
	return Mode(e.mode.Load())
}

// Len returns the number of bytes captured so far.
func (e *entry) Len() int64 {
	return e.size
}

// usable reports why the entry can no longer be read or written, if it can't.
func (e *entry) usable() error {
	if e.Mode() == ModeDisposed {
		return ErrDisposed
	}
	return e.err
}

func (e *entry) log() logrus.FieldLogger {
	return e.cache.logger.WithField("entry", e.id.String())
}

// write appends p, spilling to a file when p does not fit the memory ceiling.
func (e *entry) write(p []byte) error {
	if err := e.usable(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	switch e.Mode() {
	case ModeMemory:
		if e.mem.Len()+int64(len(p)) > e.ceiling(len(p)) {
			if err := e.spill(p); err != nil {
				return err
			}
			break
		}
		_, _ = e.mem.Write(p)
		e.resident.Store(e.mem.Len())
	case ModeFile:
		if err := e.appendFile(p); err != nil {
			return err
		}
	}

	e.size += int64(len(p))
	return nil
}

// ceiling returns the number of bytes the entry may hold in memory. The pool
// is only consulted once checkInterval bytes have arrived since the previous
// sample, so the pool limit can be overshot by that much per entry.
func (e *entry) ceiling(incoming int) int64 {
	e.sinceCheck += int64(incoming)
	if e.sinceCheck >= e.cache.checkInterval {
		e.sinceCheck = 0
		e.poolCeiling = e.mem.Len() + e.cache.RemainingPoolMemory()
	}
	return min(e.cache.maxInstanceMemory, e.poolCeiling)
}

// spill moves the buffered bytes to a new temporary file, releases the
// buffer and appends p to the file.
func (e *entry) spill(p []byte) error {
	path := filepath.Join(e.cache.dir, spillFileName(e.cache.scope(), e.id))
	f, err := e.cache.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return e.fail(&SpillError{Path: path, Err: err})
	}

	moved, err := e.mem.WriteTo(f)
	if err != nil {
		e.discardFile(f, path)
		return e.fail(&SpillError{Path: path, Err: err})
	}

	e.mem.Reset()
	e.mem = nil
	e.resident.Store(0)
	e.file = f
	e.path = path
	e.mode.Store(int32(ModeFile))
	e.cache.recordSpill(e.id, path)

	e.cache.metrics.spilled(moved)
	if err := e.appendFile(p); err != nil {
		return err
	}

	e.log().WithFields(logrus.Fields{
		"path":  path,
		"bytes": moved + int64(len(p)),
	}).Debug("spilled stream cache to file")
	return nil
}

func (e *entry) appendFile(p []byte) error {
	n, err := e.file.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return e.fail(&SpillError{Path: e.path, Err: err})
	}
	e.cache.metrics.appended(int64(n))
	return nil
}

// discardFile removes a spill file that never became the entry's storage.
func (e *entry) discardFile(f afero.File, path string) {
	_ = f.Close()
	if err := e.cache.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.log().WithError(err).WithField("path", path).Warn("failed to remove partial spill file")
	}
}

func (e *entry) fail(err error) error {
	e.err = err
	e.cache.metrics.spillFailed()
	e.log().WithError(err).Warn("stream cache spill failed")
	return err
}

// ReadAt implements io.ReaderAt over the captured bytes.
func (e *entry) ReadAt(p []byte, off int64) (int, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}

	if e.Mode() == ModeMemory {
		return e.mem.ReadAt(p, off)
	}

	if off >= e.size {
		return 0, io.EOF
	}
	if rest := e.size - off; int64(len(p)) > rest {
		n, err := e.file.ReadAt(p[:rest], off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return e.file.ReadAt(p, off)
}

// writeTo copies the captured bytes from off onwards to w.
func (e *entry) writeTo(w io.Writer, off int64) (int64, error) {
	if err := e.usable(); err != nil {
		return 0, err
	}
	if off >= e.size {
		return 0, nil
	}
	if e.Mode() == ModeMemory && off == 0 {
		return e.mem.WriteTo(w)
	}

	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	return io.CopyBuffer(w, io.NewSectionReader(e, off, e.size-off), buffer)
}

// dispose releases the buffer, closes and deletes the spill file and drops
// the entry from the pool. The entry is unusable as soon as dispose starts;
// if the file cannot be removed the error is returned and a later call
// retries the removal.
func (e *entry) dispose() error {
	if e.Mode() != ModeDisposed {
		e.mode.Store(int32(ModeDisposed))
		if e.file != nil {
			if err := e.file.Close(); err != nil {
				e.log().WithError(err).Warn("failed to close spill file")
			}
			e.file = nil
		}
		e.mem = nil
		e.resident.Store(0)
		e.cache.unregister(e.id)
		e.cache.metrics.disposed()
		e.log().WithField("bytes", e.size).Debug("disposed stream cache")
	}

	if e.path == "" {
		return nil
	}
	if err := e.cache.fs.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove spill file %s: %w", e.path, err)
	}
	e.path = ""
	return nil
}
