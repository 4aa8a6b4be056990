package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	exifconfig "github.com/pithecene-io/exifpipe/cli/config"
)

// Precedence for every extract setting: an explicitly set flag, then the
// config file, then the flag's default.

// configVal reads a field from an optional config.
func configVal[T any](cfg *exifconfig.Config, get func(*exifconfig.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func resolveInt64(c *cli.Context, name string, fromConfig int64) int64 {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int64(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

// resolveStrings returns the flag's values when set, else the config list.
func resolveStrings(c *cli.Context, name string, fromConfig []string) []string {
	if c.IsSet(name) || len(fromConfig) == 0 {
		return c.StringSlice(name)
	}
	return fromConfig
}
