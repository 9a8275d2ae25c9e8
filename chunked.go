package streamcache

import (
	"io"
	"iter"
)

// DefaultChunkSize is the capacity of each chunk allocated by a ChunkedBuffer
// when no explicit size is configured.
const DefaultChunkSize = 16 * 1024 // 16KB

// ChunkedBuffer is an append-only byte store built from fixed-size chunks.
// Growing the buffer only ever appends a new chunk, so previously written
// data is never copied into a larger array.
//
// The zero value is an empty buffer using DefaultChunkSize. A ChunkedBuffer
// is not safe for concurrent use.
type ChunkedBuffer struct {
	chunkSize int
	chunks    [][]byte
	size      int64
}

// NewChunkedBuffer creates an empty buffer whose chunks hold chunkSize bytes.
// A non-positive chunkSize selects DefaultChunkSize.
func NewChunkedBuffer(chunkSize int) *ChunkedBuffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedBuffer{chunkSize: chunkSize}
}

// Write appends p to the buffer. It always consumes all of p.
func (b *ChunkedBuffer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		tail := b.tail()
		n := copy(tail[len(tail):cap(tail)], p[written:])
		b.chunks[len(b.chunks)-1] = tail[:len(tail)+n]
		written += n
	}
	b.size += int64(written)
	return written, nil
}

// WriteByte appends a single byte.
func (b *ChunkedBuffer) WriteByte(c byte) error {
	tail := b.tail()
	b.chunks[len(b.chunks)-1] = append(tail, c)
	b.size++
	return nil
}

// tail returns the last chunk, appending a fresh one when it is full.
func (b *ChunkedBuffer) tail() []byte {
	if n := len(b.chunks); n > 0 {
		if last := b.chunks[n-1]; len(last) < cap(last) {
			return last
		}
	}
	if b.chunkSize <= 0 {
		b.chunkSize = DefaultChunkSize
	}
	chunk := make([]byte, 0, b.chunkSize)
	b.chunks = append(b.chunks, chunk)
	return chunk
}

// Len returns the number of bytes written so far.
func (b *ChunkedBuffer) Len() int64 {
	return b.size
}

// ChunkSize returns the capacity of each chunk.
func (b *ChunkedBuffer) ChunkSize() int {
	if b.chunkSize <= 0 {
		return DefaultChunkSize
	}
	return b.chunkSize
}

// ReadAt copies up to len(p) bytes starting at off into p.
// Reading at or past the end returns 0, io.EOF; a short read returns the
// number of bytes copied together with io.EOF, as io.ReaderAt requires.
func (b *ChunkedBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= b.size {
		return 0, io.EOF
	}

	chunkSize := int64(b.ChunkSize())
	idx := int(off / chunkSize)
	pos := int(off % chunkSize)
	n := 0
	for n < len(p) && idx < len(b.chunks) {
		c := copy(p[n:], b.chunks[idx][pos:])
		n += c
		idx++
		pos = 0
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// All returns the written chunks in order. The sequence is lazy and can be
// ranged over any number of times. Yielded slices alias the buffer's storage
// and must not be modified or retained past the next write.
func (b *ChunkedBuffer) All() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, chunk := range b.chunks {
			if len(chunk) == 0 {
				continue
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// WriteTo writes the whole buffer to w.
func (b *ChunkedBuffer) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for chunk := range b.All() {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n < len(chunk) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Bytes returns a copy of the buffered content.
func (b *ChunkedBuffer) Bytes() []byte {
	out := make([]byte, 0, b.size)
	for chunk := range b.All() {
		out = append(out, chunk...)
	}
	return out
}

// Reset discards all chunks.
func (b *ChunkedBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}
