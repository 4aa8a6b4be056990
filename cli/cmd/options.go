package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/exifpipe/adapter"
	"github.com/pithecene-io/exifpipe/adapter/redis"
	"github.com/pithecene-io/exifpipe/adapter/webhook"
	"github.com/pithecene-io/exifpipe/cache"
	exifconfig "github.com/pithecene-io/exifpipe/cli/config"
	"github.com/pithecene-io/exifpipe/lode"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/policy"
)

// storageChoice holds the resolved record store configuration.
// An empty backend disables persistence.
type storageChoice struct {
	backend     string // "fs" or "s3"
	path        string // fs: directory, s3: bucket/prefix
	dataset     string
	region      string
	endpoint    string
	s3PathStyle bool
}

func (s storageChoice) enabled() bool {
	return s.backend != ""
}

// validateStorageConfig checks storage settings before any file is sent,
// so a typo fails fast instead of after the whole batch ran.
func validateStorageConfig(sc storageChoice) error {
	switch sc.backend {
	case "":
		if sc.path != "" {
			return errors.New("--storage-path set without --storage-backend\n" +
				"  Valid options: fs, s3")
		}
		return nil
	case "fs":
		if sc.path == "" {
			return errors.New("--storage-path required for fs backend\n" +
				"  Example: --storage-path ./data")
		}
		info, err := os.Stat(sc.path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("storage path does not exist: %s\n"+
					"  Create it with: mkdir -p %s", sc.path, sc.path)
			}
			return fmt.Errorf("cannot access storage path %s: %w", sc.path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("storage path is not a directory: %s", sc.path)
		}
		return nil
	case "s3":
		if sc.path == "" {
			return errors.New("--storage-path required for s3 backend\n" +
				"  Format: bucket-name/optional/prefix")
		}
		if _, err := sc.s3Location(); err != nil {
			return fmt.Errorf("invalid --storage-path %q: %w\n"+
				"  Format: bucket-name/optional/prefix", sc.path, err)
		}
		return nil
	default:
		return fmt.Errorf("invalid --storage-backend: %q\n"+
			"  Valid options: fs, s3", sc.backend)
	}
}

// s3Location resolves an s3 storage choice to its bucket location.
func (s storageChoice) s3Location() (lode.S3Location, error) {
	loc, err := lode.ParseS3Location(s.path)
	if err != nil {
		return loc, err
	}
	loc.Region = s.region
	loc.Endpoint = s.endpoint
	loc.PathStyle = s.s3PathStyle
	return loc, nil
}

// buildStoragePath renders where a batch's records land, for the
// batch_completed event. Unknown backends get the bare partition path.
func buildStoragePath(sc storageChoice, dataset, source, day string) string {
	partition := fmt.Sprintf("datasets/%s/partitions/source=%s/day=%s", dataset, source, day)

	switch sc.backend {
	case "fs":
		abs, err := filepath.Abs(sc.path)
		if err != nil {
			abs = sc.path
		}
		return "file://" + filepath.ToSlash(filepath.Join(abs, partition))
	case "s3":
		loc, err := sc.s3Location()
		if err != nil {
			return partition
		}
		return loc.URL(partition)
	default:
		return partition
	}
}

// buildLodeClient opens the record store for one batch.
func buildLodeClient(ctx context.Context, sc storageChoice, cfg lode.Config) (*lode.LodeClient, error) {
	switch sc.backend {
	case "fs":
		return lode.NewLodeClient(cfg, sc.path)
	case "s3":
		loc, err := sc.s3Location()
		if err != nil {
			return nil, err
		}
		return lode.NewLodeS3Client(ctx, cfg, loc)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", sc.backend)
	}
}

// policyChoice holds the resolved record write policy.
type policyChoice struct {
	name          string
	bufferRecords int
	bufferBytes   int64
	flushCount    int
	flushInterval time.Duration
}

// validatePolicyConfig checks that the chosen policy has what it needs
// to ever write.
func validatePolicyConfig(pc policyChoice) error {
	if pc.bufferRecords < 0 || pc.bufferBytes < 0 || pc.flushCount < 0 || pc.flushInterval < 0 {
		return errors.New("policy limits must be >= 0\n" +
			"  Check --buffer-records, --buffer-bytes, --flush-count and --flush-interval")
	}
	switch policy.Name(pc.name) {
	case policy.NameStrict:
		return nil
	case policy.NameBuffered:
		if pc.bufferRecords == 0 && pc.bufferBytes == 0 {
			return errors.New("buffered policy requires --buffer-records or --buffer-bytes\n" +
				"  Example: --buffer-records 10000")
		}
		return nil
	case policy.NameStreaming:
		if pc.flushCount == 0 && pc.flushInterval == 0 {
			return errors.New("streaming policy requires --flush-count or --flush-interval\n" +
				"  Example: --flush-count 1000")
		}
		return nil
	default:
		return fmt.Errorf("invalid --policy: %q\n"+
			"  Valid options: strict, buffered, streaming", pc.name)
	}
}

func buildPolicy(pc policyChoice, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	return policy.New(sink, policy.Config{
		Name:             policy.Name(pc.name),
		MaxBufferRecords: pc.bufferRecords,
		MaxBufferBytes:   pc.bufferBytes,
		FlushCount:       pc.flushCount,
		FlushInterval:    pc.flushInterval,
		Logger:           logger,
	})
}

// cacheChoice holds the resolved result cache configuration.
// An empty URL disables caching.
type cacheChoice struct {
	url    string
	prefix string
	ttl    time.Duration
}

func buildCache(cc cacheChoice) (cache.Cache, error) {
	if cc.url == "" {
		return cache.Nop{}, nil
	}
	return cache.NewRedis(cache.RedisConfig{URL: cc.url, Prefix: cc.prefix, TTL: cc.ttl})
}

// adapterChoice holds the resolved notification adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

// parseAdapterConfigWithPrecedence resolves adapter settings for
// adapterType, with flags overriding the config file. Config headers are
// merged under flag headers.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *exifconfig.Config, adapterType string) (*adapterChoice, error) {
	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *exifconfig.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *exifconfig.Config) string { return c.Adapter.Channel })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *exifconfig.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
		headers:     make(map[string]string),
	}
	if !c.IsSet("adapter-retries") {
		if r := configVal(cfg, func(c *exifconfig.Config) *int { return c.Adapter.Retries }); r != nil {
			ac.retries = *r
		}
	}

	for k, v := range configVal(cfg, func(c *exifconfig.Config) map[string]string { return c.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q: expected key=value", h)
		}
		ac.headers[strings.TrimSpace(k)] = v
	}

	switch adapterType {
	case "webhook", "redis":
		if ac.url == "" {
			return nil, fmt.Errorf("--adapter-url is required when --adapter=%s", adapterType)
		}
	default:
		return nil, fmt.Errorf("unknown adapter type: %q (must be webhook or redis)", adapterType)
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}
	return ac, nil
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %q", ac.adapterType)
	}
}
