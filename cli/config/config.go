// Package config loads exifpipe.yaml: defaults for the extract command.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents an exifpipe.yaml configuration file.
// All values are optional and act as defaults for extract flags.
// CLI flags always override config values.
type Config struct {
	Exiftool    string        `yaml:"exiftool"`
	Args        []string      `yaml:"args"`
	Mode        string        `yaml:"mode"`
	Concurrency int           `yaml:"concurrency"`
	Source      string        `yaml:"source"`
	Storage     StorageConfig `yaml:"storage"`
	Policy      PolicyConfig  `yaml:"policy"`
	Cache       CacheConfig   `yaml:"cache"`
	Adapter     AdapterConfig `yaml:"adapter"`
}

// StorageConfig holds record store defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig holds record write policy defaults.
type PolicyConfig struct {
	Name          string   `yaml:"name"`
	BufferRecords int      `yaml:"buffer_records,omitempty"`
	BufferBytes   int64    `yaml:"buffer_bytes,omitempty"`
	FlushCount    int      `yaml:"flush_count,omitempty"`
	FlushInterval Duration `yaml:"flush_interval,omitempty"`
}

// CacheConfig holds result cache defaults.
type CacheConfig struct {
	URL    string   `yaml:"url"`
	Prefix string   `yaml:"prefix,omitempty"`
	TTL    Duration `yaml:"ttl,omitempty"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values no command could act on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "", "session", "oneshot":
	default:
		errs = append(errs, fmt.Errorf("mode: must be session or oneshot, got %q", c.Mode))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency: must be >= 0, got %d", c.Concurrency))
	}
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: must be fs or s3, got %q", c.Storage.Backend))
	}
	switch c.Policy.Name {
	case "", "strict", "buffered", "streaming":
	default:
		errs = append(errs, fmt.Errorf("policy.name: must be strict, buffered or streaming, got %q", c.Policy.Name))
	}
	if c.Policy.BufferRecords < 0 || c.Policy.BufferBytes < 0 || c.Policy.FlushCount < 0 || c.Policy.FlushInterval.Duration < 0 {
		errs = append(errs, errors.New("policy: limits must be >= 0"))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type: must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries: must be >= 0, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}
