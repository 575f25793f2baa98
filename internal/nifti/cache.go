package nifti

import (
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedHeader struct {
	modTime time.Time
	size    int64
	header  *Header
}

// HeaderCache memoizes headers by path. An entry is reused only while the
// file's size and modification time are unchanged, so images rewritten by a
// later step are read again.
type HeaderCache struct {
	entries *lru.Cache[string, cachedHeader]
}

// NewHeaderCache creates a cache holding up to size headers.
func NewHeaderCache(size int) (*HeaderCache, error) {
	c, err := lru.New[string, cachedHeader](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create header cache: %w", err)
	}
	return &HeaderCache{entries: c}, nil
}

// Header returns the header of path.
func (c *HeaderCache) Header(path string) (*Header, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if e, ok := c.entries.Get(path); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.header, nil
	}
	h, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	c.entries.Add(path, cachedHeader{modTime: info.ModTime(), size: info.Size(), header: h})
	return h, nil
}

// NVolumes returns the number of volumes of path.
func (c *HeaderCache) NVolumes(path string) (int, error) {
	h, err := c.Header(path)
	if err != nil {
		return 0, err
	}
	return h.NVolumes(), nil
}

// TR returns the repetition time of path in seconds.
func (c *HeaderCache) TR(path string) (float64, error) {
	h, err := c.Header(path)
	if err != nil {
		return 0, err
	}
	return h.TR(), nil
}
