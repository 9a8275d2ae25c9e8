/*
Package streamcache lets a byte stream from a single, possibly expensive or
one-shot source be consumed any number of times without fetching it again.

# Overview

A Reader captures the bytes of its source while they are read for the first
time. After the first pass reaches end of stream, Rewind replays the captured
bytes from the start as often as needed. A Writer captures the bytes written
to it and turns them into a Reader without copying.

Captured bytes are kept in memory until an entry grows past its memory
ceiling. It then spills: the buffered bytes are moved to a temporary file in
the cache directory and everything after that is appended to the file. A
spill never goes back to memory.

# Core Architecture

	Cache          pool root: configuration, weak registry of live entries
	├── Writer     write-once sink, optional pass-through downstream
	├── Reader     read-many stream over a Source
	└── entry      memory/file state machine shared by the two
	    └── ChunkedBuffer  append-only in-memory storage

The memory ceiling of an entry is the smaller of the per-instance limit and
what is left of the pool budget. The pool is the sum of the bytes all live
entries of a Cache hold in memory. Entries sample the pool only once per
check interval (1KB by default), so the pool limit is best-effort:
concurrent writers may overshoot it by up to one interval each.

The registry holds weak pointers. An entry whose Reader or Writer became
unreachable stops counting against the pool after the next garbage
collection. Its spill file is not removed, though; only Dispose deletes
files. PruneOrphans can clean up files left behind. Spill file names carry
the cache name, so caches that share a directory under distinct names never
list or prune each other's files.

# Basic Usage

Opening a cache:

	cache, err := streamcache.Open("/var/tmp/spill",
	    streamcache.WithMaxPoolMemory(256<<20),
	    streamcache.WithMaxInstanceMemory(4<<20),
	)
	if err != nil {
	    log.Fatalf("Failed to open cache: %v", err)
	}

Reading a response body twice:

	err = cache.WithReader(streamcache.FromStream(resp.Body), func(r *streamcache.Reader) error {
	    if err := validate(r); err != nil {
	        return err
	    }
	    if err := r.Rewind(); err != nil {
	        return err
	    }
	    return store(r)
	})

Capturing output and reading it back:

	w := cache.NewWriter(os.Stdout)
	defer w.Dispose()
	if _, err := io.Copy(w, src); err != nil {
	    return err
	}
	r, err := w.Reader()
	if err != nil {
	    return err
	}
	defer r.Dispose()

# Sources

A Reader is created from exactly one Source:

  - FromBytes: the bytes are cached up front, the Reader is replayable at once
  - FromFile: an open afero.File, owned and closed by the Reader
  - FromPath: a path on the cache filesystem, opened and closed by the Reader
  - FromStream: any io.Reader, never closed by the Reader

# Configuration

Options can be given one by one or loaded from a file with LoadConfig:

	cfg, err := streamcache.LoadConfig("streamcache.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	cache, err := streamcache.Open(cfg.CacheDirectory, streamcache.WithConfig(cfg))

Environment variables prefixed with STREAMCACHE_ override file values, for
example STREAMCACHE_MAX_MEMORY_POOL=128MiB.

# Error Handling

  - ErrDisposed: any read or write after Dispose
  - ErrClosed: a write after Writer.Close or Writer.Reader
  - ErrTransferred: a second call to Writer.Reader
  - ErrNotRewindable: Rewind or ReadAt before the first pass ended
  - ErrIncompletePass: Rewind after the source failed mid-stream
  - *SpillError: the spill file could not be created or written; the entry
    is unusable and must be disposed
  - *PassThroughError: the downstream of a Writer failed; the bytes were cached

Errors returned by the source of a Reader are passed through unchanged.

# Concurrency

A Cache is safe for concurrent use. Readers and Writers are not: each must be
used by one goroutine at a time.
*/
package streamcache
