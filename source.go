package streamcache

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Source describes where a Reader's bytes come from. It is one of
// FromBytes, FromFile, FromPath or FromStream.
type Source interface {
	// open prepares e and returns the upstream to capture during the first
	// pass, or nil when e already holds the whole content.
	open(c *Cache, e *entry) (*upstream, error)

	// String returns a string representation of the source.
	String() string
}

// upstream is the live source of a Reader's first pass.
type upstream struct {
	io.Reader
	owned io.Closer // closed on release; nil for borrowed streams
}

func (u *upstream) release() error {
	if u.owned == nil {
		return nil
	}
	err := u.owned.Close()
	u.owned = nil
	return err
}

// FromBytes caches a copy of data. The Reader is replayable immediately.
func FromBytes(data []byte) Source {
	return bytesSource(data)
}

type bytesSource []byte

func (s bytesSource) open(_ *Cache, e *entry) (*upstream, error) {
	if err := e.write(s); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s bytesSource) String() string {
	return fmt.Sprintf("bytes:%d", len(s))
}

// FromFile captures an open file on the first pass. The Reader takes
// ownership of f and closes it once the first pass ends, or on Close or Dispose.
func FromFile(f afero.File) Source {
	return fileSource{f: f}
}

type fileSource struct {
	f afero.File
}

func (s fileSource) open(_ *Cache, _ *entry) (*upstream, error) {
	if s.f == nil {
		return nil, errors.New("nil file source")
	}
	return &upstream{Reader: s.f, owned: s.f}, nil
}

func (s fileSource) String() string {
	if s.f == nil {
		return "file:<nil>"
	}
	return fmt.Sprintf("file:%s", s.f.Name())
}

// FromPath opens path on the cache's filesystem and captures it on the first
// pass. The file is closed once the first pass ends, or on Close or Dispose.
func FromPath(path string) Source {
	return pathSource(path)
}

type pathSource string

func (s pathSource) open(c *Cache, _ *entry) (*upstream, error) {
	f, err := c.fs.Open(string(s))
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", string(s), err)
	}
	return &upstream{Reader: f, owned: f}, nil
}

func (s pathSource) String() string {
	return fmt.Sprintf("path:%s", string(s))
}

// FromStream captures r on the first pass. The Reader never closes r.
func FromStream(r io.Reader) Source {
	return streamSource{r: r}
}

type streamSource struct {
	r io.Reader
}

func (s streamSource) open(_ *Cache, _ *entry) (*upstream, error) {
	if s.r == nil {
		return nil, errors.New("nil stream source")
	}
	return &upstream{Reader: s.r}, nil
}

func (s streamSource) String() string {
	return fmt.Sprintf("stream:%T", s.r)
}
