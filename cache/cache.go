// Package cache memoizes exiftool results.
//
// Entries are keyed by file identity (absolute path, size, modification
// time) plus the exiftool arguments, so an edited file or a different tag
// selection never hits a stale entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// Cache stores metadata by key.
type Cache interface {
	// Get returns the cached metadata and whether the key was present.
	Get(ctx context.Context, key string) (types.Metadata, bool, error)
	// Put stores md under key.
	Put(ctx context.Context, key string, md types.Metadata) error
	// Close releases resources.
	Close() error
}

// Key derives the cache key for path with the given stat result and args.
func Key(path string, info os.FileInfo, args []string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(abs)
	write(strconv.FormatInt(info.Size(), 10))
	write(strconv.FormatInt(info.ModTime().UnixNano(), 10))
	for _, a := range args {
		write(a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Nop is a Cache that never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (types.Metadata, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, types.Metadata) error         { return nil }
func (Nop) Close() error                                              { return nil }

// Instrumented counts hits and misses on an inner Cache.
type Instrumented struct {
	inner     Cache
	collector *metrics.Collector
}

// NewInstrumented wraps inner. A nil collector records nothing.
func NewInstrumented(inner Cache, collector *metrics.Collector) *Instrumented {
	return &Instrumented{inner: inner, collector: collector}
}

// Get delegates and counts a hit or a miss. Errors count as misses.
func (c *Instrumented) Get(ctx context.Context, key string) (types.Metadata, bool, error) {
	md, ok, err := c.inner.Get(ctx, key)
	if ok && err == nil {
		c.collector.IncCacheHit()
	} else {
		c.collector.IncCacheMiss()
	}
	return md, ok, err
}

// Put delegates.
func (c *Instrumented) Put(ctx context.Context, key string, md types.Metadata) error {
	return c.inner.Put(ctx, key, md)
}

// Close delegates.
func (c *Instrumented) Close() error {
	return c.inner.Close()
}

var (
	_ Cache = Nop{}
	_ Cache = (*Instrumented)(nil)
)
