package streamcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// WithFs sets a custom filesystem for spill files and path sources.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := streamcache.Open("/spill", streamcache.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithHashFunc sets the hash function used by Reader.Digest.
// The default is xxHash64.
func WithHashFunc(hashFunc HashFunc) Option {
	return func(c *Cache) {
		c.hashFunc = hashFunc
	}
}

// WithNowFunc sets a custom time function for the cache.
// This is primarily useful for testing PruneOrphans with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(c *Cache) {
		c.nowFunc = nowFunc
	}
}

// WithMaxPoolMemory sets the number of bytes all live entries of the cache may
// keep in memory together. The limit is best-effort: entries only sample the
// pool usage periodically, so concurrent writers can overshoot it briefly.
func WithMaxPoolMemory(n int64) Option {
	return func(c *Cache) {
		c.maxPoolMemory = n
	}
}

// WithMaxInstanceMemory sets the number of bytes a single entry may keep in
// memory before it spills to a temporary file.
func WithMaxInstanceMemory(n int64) Option {
	return func(c *Cache) {
		c.maxInstanceMemory = n
	}
}

// WithChunkSize sets the chunk size of in-memory buffers.
func WithChunkSize(n int) Option {
	return func(c *Cache) {
		c.chunkSize = n
	}
}

// WithCheckInterval sets how many bytes an entry may absorb between two
// samples of the pool usage. Smaller values tighten the pool limit at the
// cost of more time spent under the registry lock.
func WithCheckInterval(n int64) Option {
	return func(c *Cache) {
		c.checkInterval = n
	}
}

// WithDiscardOnClose makes Writer.Close dispose the cached content instead of
// keeping it available for Writer.Reader.
func WithDiscardOnClose(discard bool) Option {
	return func(c *Cache) {
		c.discardOnClose = discard
	}
}

// WithLogger sets the logger used for spill and cleanup events.
// By default nothing is logged.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics registers the cache's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Cache) {
		c.registerer = reg
	}
}

// WithName labels the cache in logs and metrics and scopes its spill file
// names. Caches sharing a Prometheus registry or a spill directory must use
// distinct names. The name must not contain path separators.
func WithName(name string) Option {
	return func(c *Cache) {
		c.name = name
	}
}

// WithConfig applies the memory limits and behavior flags of cfg.
// The cache directory is still taken from the argument of Open.
//
// Example:
//
//	cfg, err := streamcache.LoadConfig("streamcache.yaml")
//	...
//	cache, err := streamcache.Open(cfg.CacheDirectory, streamcache.WithConfig(cfg))
func WithConfig(cfg Config) Option {
	return func(c *Cache) {
		c.maxPoolMemory = int64(cfg.MaxPoolMemory)
		c.maxInstanceMemory = int64(cfg.MaxInstanceMemory)
		c.chunkSize = int(cfg.ChunkSize)
		c.checkInterval = int64(cfg.CheckInterval)
		c.discardOnClose = cfg.DiscardOnClose
	}
}
