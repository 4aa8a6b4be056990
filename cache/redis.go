package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/exifpipe/types"
)

// DefaultPrefix namespaces cache keys in Redis.
const DefaultPrefix = "exifpipe:md:"

// DefaultTTL is how long an entry lives when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

// entryVersion is bumped whenever the stored layout changes; entries with
// another version are treated as misses.
const entryVersion = 1

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix is prepended to every key (default exifpipe:md:).
	Prefix string
	// TTL is the entry lifetime (default 24h).
	TTL time.Duration
}

// entry is the msgpack-encoded value stored per key.
type entry struct {
	Version  int            `msgpack:"v"`
	CachedAt int64          `msgpack:"cached_at"`
	Metadata types.Metadata `msgpack:"metadata"`
}

// Redis is a Cache backed by Redis string values.
type Redis struct {
	config RedisConfig
	client *goredis.Client
}

// NewRedis creates a Redis cache. Returns an error if the URL is empty or
// invalid; the server is not contacted until first use.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis cache requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Redis{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (types.Metadata, bool, error) {
	raw, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: get: %w", err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: decode %s: %w", key, err)
	}
	if e.Version != entryVersion {
		return nil, false, nil
	}
	return e.Metadata, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, md types.Metadata) error {
	raw, err := msgpack.Marshal(&entry{
		Version:  entryVersion,
		CachedAt: time.Now().Unix(),
		Metadata: md,
	})
	if err != nil {
		return fmt.Errorf("redis cache: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.config.Prefix+key, raw, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// decodeEntry decodes with loose interface decoding so numbers come back
// as int64/uint64/float64 rather than the narrowest msgpack type.
func decodeEntry(raw []byte) (*entry, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var e entry
	if err := dec.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

var _ Cache = (*Redis)(nil)
