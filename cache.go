package streamcache

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Cache is the pool root. It owns the configuration shared by every Reader and
// Writer it creates and keeps a weak registry of their entries, which is used
// to account memory across the pool.
//
// A Cache is safe for concurrent use. The Readers and Writers it creates are not.
type Cache struct {
	dir               string
	fs                afero.Fs
	hashFunc          HashFunc
	nowFunc           NowFunc
	logger            logrus.FieldLogger
	name              string
	maxPoolMemory     int64
	maxInstanceMemory int64
	chunkSize         int
	checkInterval     int64
	discardOnClose    bool
	registerer        prometheus.Registerer
	metrics           *metrics

	mu      sync.Mutex // guards entries; never held across I/O
	entries map[uuid.UUID]*registration
}

// registration tracks one entry without keeping it alive.
type registration struct {
	ref  weak.Pointer[entry]
	path string // spill file, set once the entry leaves memory
}

// HashFunc defines a function that creates a new hash.Hash instance.
type HashFunc func() hash.Hash

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Option defines a function that configures a Cache.
type Option func(*Cache)

// Open creates a cache that spills to dir. An empty dir selects the system
// temporary directory. The directory will be created if it doesn't exist.
//
// Spill file names carry the cache name (see WithName). Caches sharing a
// directory should use distinct names, otherwise SpillFiles and PruneOrphans
// of one cache also see the files of the other.
func Open(dir string, options ...Option) (*Cache, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	cache := &Cache{
		dir:               dir,
		fs:                afero.NewOsFs(),
		nowFunc:           time.Now,
		hashFunc:          defaultHashFunc,
		logger:            discardLogger(),
		maxPoolMemory:     DefaultMaxPoolMemory,
		maxInstanceMemory: DefaultMaxInstanceMemory,
		chunkSize:         DefaultChunkSize,
		checkInterval:     DefaultCheckInterval,
		entries:           make(map[uuid.UUID]*registration),
	}

	// Apply options
	for _, option := range options {
		option(cache)
	}

	if err := cache.config().Validate(); err != nil {
		return nil, err
	}

	if strings.ContainsAny(cache.name, `/\`) {
		return nil, newValidationError([]error{fmt.Errorf("cache name %q must not contain path separators", cache.name)})
	}

	if cache.name != "" {
		cache.logger = cache.logger.WithField("cache", cache.name)
	}

	if err := cache.fs.MkdirAll(cache.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if cache.registerer != nil {
		m, err := newMetrics(cache, cache.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		cache.metrics = m
	}

	return cache, nil
}

// OpenTemp creates a cache backed by an in-memory filesystem, for testing.
func OpenTemp(options ...Option) *Cache {
	options = append([]Option{WithFs(afero.NewMemMapFs())}, options...)
	cache, err := Open("/streamcache", options...)
	if err != nil {
		panic(fmt.Sprintf("failed to create temp cache: %v", err))
	}
	return cache
}

// Dir returns the directory spill files are created in.
func (c *Cache) Dir() string {
	return c.dir
}

// Config returns the effective configuration of the cache.
func (c *Cache) Config() Config {
	return c.config()
}

func (c *Cache) config() Config {
	return Config{
		MaxPoolMemory:     ByteSize(c.maxPoolMemory),
		MaxInstanceMemory: ByteSize(c.maxInstanceMemory),
		CacheDirectory:    c.dir,
		ChunkSize:         ByteSize(c.chunkSize),
		CheckInterval:     ByteSize(c.checkInterval),
		DiscardOnClose:    c.discardOnClose,
	}
}

// NewWriter creates a Writer. Bytes written to it are cached and, when
// downstream is not nil, passed through to downstream as well.
func (c *Cache) NewWriter(downstream io.Writer) *Writer {
	return &Writer{
		entry:      c.newEntry(),
		downstream: downstream,
	}
}

// NewReader creates a Reader over src.
func (c *Cache) NewReader(src Source) (*Reader, error) {
	if src == nil {
		return nil, errors.New("nil source")
	}

	e := c.newEntry()
	up, err := src.open(c, e)
	if err != nil {
		_ = e.dispose()
		return nil, err
	}

	r := &Reader{entry: e}
	if up == nil {
		r.passDone = true
	} else {
		r.upstream = up
	}
	e.log().WithField("source", src.String()).Debug("opened stream cache reader")
	return r, nil
}

// WithReader creates a Reader over src, calls fn with it and disposes the
// Reader on every return path.
func (c *Cache) WithReader(src Source, fn func(*Reader) error) (err error) {
	r, err := c.NewReader(src)
	if err != nil {
		return err
	}
	defer func() {
		if dErr := r.Dispose(); dErr != nil && err == nil {
			err = dErr
		}
	}()
	return fn(r)
}

// WithWriter creates a Writer, calls fn with it and disposes the cached
// content on every return path. A Reader obtained from the Writer inside fn
// shares that content and must not be used after WithWriter returns.
func (c *Cache) WithWriter(downstream io.Writer, fn func(*Writer) error) (err error) {
	w := c.NewWriter(downstream)
	defer func() {
		if dErr := w.entry.dispose(); dErr != nil && err == nil {
			err = dErr
		}
	}()
	return fn(w)
}

// CurrentPoolMemory returns the number of bytes held in memory by all live
// entries of the cache. Entries whose owners were garbage collected drop out.
func (c *Cache) CurrentPoolMemory() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	c.sweepLocked(func(e *entry, _ *registration) {
		total += e.resident.Load()
	})
	return total
}

// RemainingPoolMemory returns how many more bytes the pool may hold in memory.
func (c *Cache) RemainingPoolMemory() int64 {
	return max(0, c.maxPoolMemory-c.CurrentPoolMemory())
}

// Live returns the number of entries that are neither disposed nor collected.
func (c *Cache) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	c.sweepLocked(func(*entry, *registration) { n++ })
	return n
}

// sweepLocked calls fn for every live entry and forgets collected ones.
// c.mu must be held.
func (c *Cache) sweepLocked(fn func(*entry, *registration)) {
	for id, reg := range c.entries {
		e := reg.ref.Value()
		if e == nil {
			delete(c.entries, id)
			continue
		}
		fn(e, reg)
	}
}

func (c *Cache) newEntry() *entry {
	e := &entry{
		id:    uuid.New(),
		cache: c,
		mem:   NewChunkedBuffer(c.chunkSize),
	}
	// Force a pool sample on the first write.
	e.sinceCheck = c.checkInterval

	c.mu.Lock()
	c.entries[e.id] = &registration{ref: weak.Make(e)}
	c.mu.Unlock()

	runtime.AddCleanup(e, c.unregister, e.id)
	c.metrics.created()
	return e
}

func (c *Cache) unregister(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func (c *Cache) recordSpill(id uuid.UUID, path string) {
	c.mu.Lock()
	if reg, ok := c.entries[id]; ok {
		reg.path = path
	}
	c.mu.Unlock()
}

// livePaths returns the spill files owned by live entries.
func (c *Cache) livePaths() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := make(map[string]struct{})
	c.sweepLocked(func(_ *entry, reg *registration) {
		if reg.path != "" {
			paths[reg.path] = struct{}{}
		}
	})
	return paths
}

// newHash creates a new hash instance.
func (c *Cache) newHash() hash.Hash {
	return c.hashFunc()
}

// now returns the current time.
func (c *Cache) now() time.Time {
	return c.nowFunc()
}

// defaultHashFunc returns the default hash function (xxHash64).
func defaultHashFunc() hash.Hash {
	return xxhash.New()
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
