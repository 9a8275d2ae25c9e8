package streamcache

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Stats represents cache statistics.
type Stats struct {
	Live        int   // Entries neither disposed nor collected
	InMemory    int   // Live entries still held in memory
	OnDisk      int   // Live entries spilled to a file
	PoolMemory  int64 // Bytes held in memory by live entries
	PoolLimit   int64 // Configured pool memory limit
	SpillFiles  int   // Spill files present in the cache directory
	SpillBytes  int64 // Total size of those files
	OrphanFiles int   // Spill files not owned by a live entry of this cache
}

// SpillFile describes a spill file found in the cache directory.
type SpillFile struct {
	Path    string
	Size    int64
	ModTime time.Time
	Owned   bool // held by a live entry of this cache
}

// Stats returns statistics about the pool and its spill directory.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{PoolLimit: c.maxPoolMemory}

	c.mu.Lock()
	c.sweepLocked(func(e *entry, _ *registration) {
		stats.Live++
		switch e.Mode() {
		case ModeMemory:
			stats.InMemory++
			stats.PoolMemory += e.resident.Load()
		case ModeFile:
			stats.OnDisk++
		}
	})
	c.mu.Unlock()

	files, err := c.SpillFiles()
	if err != nil {
		return Stats{}, err
	}
	for _, f := range files {
		stats.SpillFiles++
		stats.SpillBytes += f.Size
		if !f.Owned {
			stats.OrphanFiles++
		}
	}

	return stats, nil
}

// SpillFiles lists the spill files of this cache's scope in the cache
// directory. The scope is the name given with WithName, so caches that share
// a directory under different names never see each other's files. Files left
// over by earlier processes or by entries that were never disposed are
// reported with Owned set to false.
func (c *Cache) SpillFiles() ([]SpillFile, error) {
	owned := c.livePaths()

	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	var files []SpillFile
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if scope, ok := spillScope(info.Name()); !ok || scope != c.scope() {
			continue
		}
		path := filepath.Join(c.dir, info.Name())
		_, isOwned := owned[path]
		files = append(files, SpillFile{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Owned:   isOwned,
		})
	}
	return files, nil
}

// PruneOrphans removes spill files that are not owned by a live entry of this
// cache and were last modified more than olderThan ago. Only files of this
// cache's scope are considered; unnamed caches share the "default" scope, so
// two unnamed caches on the same directory must not prune each other with a
// short olderThan. It only runs when called; nothing reaps orphaned files in
// the background.
// Returns the number of files removed.
func (c *Cache) PruneOrphans(olderThan time.Duration) (int, error) {
	files, err := c.SpillFiles()
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-olderThan)
	count := 0
	for _, f := range files {
		if f.Owned || f.ModTime.After(cutoff) {
			continue
		}
		if err := c.fs.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return count, fmt.Errorf("failed to remove orphaned spill file %s: %w", f.Path, err)
		}
		c.logger.WithField("path", f.Path).Info("removed orphaned spill file")
		count++
	}

	return count, nil
}

// scope returns the part of spill file names that identifies this cache.
func (c *Cache) scope() string {
	if c.name == "" {
		return defaultScope
	}
	return c.name
}

func spillFileName(scope string, id uuid.UUID) string {
	return spillPrefix + scope + "-" + id.String() + spillSuffix
}

// spillScope returns the scope of a spill file name, or false if name is not
// a spill file.
func spillScope(name string) (string, bool) {
	if !strings.HasPrefix(name, spillPrefix) || !strings.HasSuffix(name, spillSuffix) {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(name, spillPrefix), spillSuffix)

	const idLen = 36 // canonical uuid form
	if len(inner) < idLen+2 || inner[len(inner)-idLen-1] != '-' {
		return "", false
	}
	if _, err := uuid.Parse(inner[len(inner)-idLen:]); err != nil {
		return "", false
	}
	return inner[:len(inner)-idLen-1], true
}
