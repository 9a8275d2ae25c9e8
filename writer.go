package streamcache

import (
	"io"
)

// flusher is implemented by buffered downstream writers.
type flusher interface {
	Flush() error
}

// Writer is a write-once sink whose content can be turned into a Reader
// without copying. Bytes may also be passed through to a downstream writer.
// Users should not construct this directly, use Cache.NewWriter() instead.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	entry       *entry
	downstream  io.Writer
	closed      bool
	transferred bool
}

// Write implements io.Writer. Bytes are cached first and then written to the
// downstream, if any. A downstream failure is reported as a *PassThroughError;
// the bytes stay cached.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.writable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := w.entry.write(p); err != nil {
		return 0, err
	}
	if err := w.passThrough(p); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(c byte) error {
	_, err := w.Write([]byte{c})
	return err
}

// WriteString implements io.StringWriter.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// ReadFrom implements io.ReaderFrom.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	if err := w.writable(); err != nil {
		return 0, err
	}

	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	var total int64
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			written, wErr := w.Write(buffer[:n])
			total += int64(written)
			if wErr != nil {
				return total, wErr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (w *Writer) passThrough(p []byte) error {
	if w.downstream == nil {
		return nil
	}
	n, err := w.downstream.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &PassThroughError{Err: err}
	}
	return nil
}

func (w *Writer) writable() error {
	if w.entry.Mode() == ModeDisposed {
		return ErrDisposed
	}
	if w.closed || w.transferred {
		return ErrClosed
	}
	return nil
}

// finish ends the write side and flushes a buffered downstream. The
// downstream is never closed; it belongs to the caller.
func (w *Writer) finish() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if f, ok := w.downstream.(flusher); ok {
		if err := f.Flush(); err != nil {
			return &PassThroughError{Err: err}
		}
	}
	return nil
}

// Reader ends writing and returns a Reader over the same cached content.
// No bytes are copied; the Writer gives up the content to the Reader, so a
// second call returns ErrTransferred.
func (w *Writer) Reader() (*Reader, error) {
	if w.transferred {
		return nil, ErrTransferred
	}
	if err := w.entry.usable(); err != nil {
		return nil, err
	}
	if err := w.finish(); err != nil {
		return nil, err
	}

	w.transferred = true
	return &Reader{entry: w.entry, passDone: true}, nil
}

// Close ends writing. The cached content stays available to Reader unless
// the cache was opened with WithDiscardOnClose(true), in which case it is
// disposed. Close is idempotent.
func (w *Writer) Close() error {
	if w.entry.Mode() == ModeDisposed {
		return nil
	}
	err := w.finish()
	if w.entry.cache.discardOnClose && !w.transferred {
		if dErr := w.entry.dispose(); dErr != nil && err == nil {
			err = dErr
		}
	}
	return err
}

// Dispose releases the cached content unless it was handed to a Reader,
// which then owns it.
func (w *Writer) Dispose() error {
	w.closed = true
	if w.transferred {
		return nil
	}
	return w.entry.dispose()
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.entry.Len()
}

// Mode returns where the cached content currently lives.
func (w *Writer) Mode() Mode {
	return w.entry.Mode()
}

// InMemory reports whether the cached content is still held in memory.
func (w *Writer) InMemory() bool {
	return w.entry.Mode() == ModeMemory
}
