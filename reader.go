package streamcache

import (
	"errors"
	"fmt"
	"io"
)

// Reader is a stream that can be read any number of times.
//
// During the first pass it reads from its upstream source and captures every
// byte it returns. Once the first pass has reached end of stream, Rewind moves
// the cursor back to the start and all further reads are served from the
// cache. Close only releases the upstream; Dispose releases the cached content.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	entry    *entry
	upstream *upstream
	passDone bool  // the whole content is cached
	passErr  error // why the first pass stopped early
	pos      int64
	one      [1]byte
}

// Read implements io.Reader. End of stream is reported exactly as the
// upstream reported it. Reading a disposed Reader returns ErrDisposed.
func (r *Reader) Read(p []byte) (int, error) {
	if r.entry.Mode() == ModeDisposed {
		return 0, ErrDisposed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if r.passDone {
		return r.readCache(p)
	}
	return r.readUpstream(p)
}

func (r *Reader) readUpstream(p []byte) (int, error) {
	if r.passErr != nil {
		return 0, r.passErr
	}

	n, err := r.upstream.Read(p)
	if n > 0 {
		if werr := r.entry.write(p[:n]); werr != nil {
			r.passErr = werr
			return n, werr
		}
		r.pos += int64(n)
	}

	if err == io.EOF {
		r.finishPass()
	} else if err != nil {
		r.passErr = err
	}
	return n, err
}

func (r *Reader) readCache(p []byte) (int, error) {
	n, err := r.entry.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *Reader) finishPass() {
	r.passDone = true
	r.releaseUpstream()
}

func (r *Reader) releaseUpstream() {
	if r.upstream == nil {
		return
	}
	if err := r.upstream.release(); err != nil {
		r.entry.log().WithError(err).Warn("failed to close stream cache source")
	}
	r.upstream = nil
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(r, r.one[:]); err != nil {
		return 0, err
	}
	return r.one[0], nil
}

// WriteTo implements io.WriterTo. On the first pass the upstream is drained
// through the cache; afterwards the remaining cached bytes are copied out.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	if r.entry.Mode() == ModeDisposed {
		return 0, ErrDisposed
	}

	if !r.passDone {
		bufPtr := bufferPool.Get().(*[]byte)
		buffer := *bufPtr
		defer bufferPool.Put(bufPtr)

		// Hide WriteTo so io.CopyBuffer doesn't call back into this method.
		return io.CopyBuffer(w, struct{ io.Reader }{r}, buffer)
	}

	n, err := r.entry.writeTo(w, r.pos)
	r.pos += n
	return n, err
}

// ReadAt implements io.ReaderAt over the cached content. It does not move the
// read cursor and is only available once the first pass is complete.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.entry.Mode() == ModeDisposed {
		return 0, ErrDisposed
	}
	if !r.passDone {
		return 0, ErrNotRewindable
	}
	return r.entry.ReadAt(p, off)
}

// Rewind moves the cursor back to the start of the cached content. It is a
// no-op while nothing has been cached and fails with ErrNotRewindable while
// the first pass is still in progress.
func (r *Reader) Rewind() error {
	if err := r.entry.usable(); err != nil {
		return err
	}
	if r.entry.Len() == 0 {
		return nil
	}
	if r.passErr != nil {
		return fmt.Errorf("%w: %w", ErrIncompletePass, r.passErr)
	}
	if !r.passDone {
		return ErrNotRewindable
	}
	r.pos = 0
	return nil
}

// Available returns the number of bytes that can be read from the cache
// without touching the upstream.
func (r *Reader) Available() int64 {
	if !r.passDone || r.entry.Mode() == ModeDisposed {
		return 0
	}
	return r.entry.Len() - r.pos
}

// IsCacheEmpty reports whether no bytes have been cached.
func (r *Reader) IsCacheEmpty() bool {
	return r.entry.Len() == 0
}

// Replayable reports whether the first pass is complete.
func (r *Reader) Replayable() bool {
	return r.passDone && r.entry.Mode() != ModeDisposed
}

// Size returns the number of bytes cached so far.
func (r *Reader) Size() int64 {
	return r.entry.Len()
}

// Mode returns where the cached content currently lives.
func (r *Reader) Mode() Mode {
	return r.entry.Mode()
}

// InMemory reports whether the cached content is still held in memory.
func (r *Reader) InMemory() bool {
	return r.entry.Mode() == ModeMemory
}

// Digest returns the hex-encoded hash of the whole cached content, using the
// cache's hash function. It does not move the read cursor.
func (r *Reader) Digest() (string, error) {
	if err := r.entry.usable(); err != nil {
		return "", err
	}
	if !r.passDone {
		return "", ErrNotRewindable
	}
	return digest(r.entry, r.entry.cache.newHash())
}

// Close releases the upstream if the Reader owns it. The cached content stays
// readable, so a consumer that doesn't own the Reader's lifecycle may close
// it safely. An unfinished first pass cannot be resumed after Close.
func (r *Reader) Close() error {
	if r.upstream == nil {
		return nil
	}
	err := r.upstream.release()
	r.upstream = nil
	if !r.passDone && r.passErr == nil {
		r.passErr = errors.New("stream cache source closed before end of stream")
	}
	return err
}

// Dispose releases the cached content and deletes its spill file. Any later
// read fails with ErrDisposed. Dispose may be retried if it returns an error.
func (r *Reader) Dispose() error {
	r.releaseUpstream()
	return r.entry.dispose()
}
