package runtime

import (
	"fmt"

	"github.com/pithecene-io/exifpipe/executor"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/metrics"
)

// Mode distinguishes a persistent -stay_open session from a one-shot spawn.
type Mode string

const (
	ModeSession Mode = "session"
	ModeOneShot Mode = "oneshot"
)

// Config configures how exiftool is spawned.
type Config struct {
	// ToolPath is the exiftool binary. Empty means executor.Locate's
	// fallback chain (env, vendored, $PATH).
	ToolPath string
	// Env is appended to the inherited environment.
	Env []string
	// Dir is the working directory; empty inherits the caller's.
	Dir string
	// Logger receives lifecycle and diagnostic entries. Nil discards.
	Logger *log.Logger
	// Collector receives counters. Nil records nothing.
	Collector *metrics.Collector
}

// resolve fills in defaults and resolves ToolPath to an executable.
func (c Config) resolve() (Config, error) {
	path, err := executor.Locate(c.ToolPath)
	if err != nil {
		return c, fmt.Errorf("failed to locate exiftool: %w", err)
	}
	c.ToolPath = path
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
	return c, nil
}
