// Package executor resolves the exiftool binary a session spawns.
//
// Resolution order:
//  1. an explicit path (flag or config)
//  2. the EXIFPIPE_EXIFTOOL environment variable
//  3. a vendored distribution next to the running binary
//     (vendor/Image-ExifTool-*/exiftool, newest first)
//  4. exiftool on $PATH
package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/pithecene-io/exifpipe/iox"
)

// EnvToolPath names the environment variable consulted after an explicit path.
const EnvToolPath = "EXIFPIPE_EXIFTOOL"

// DefaultToolName is looked up on $PATH as the last resort.
const DefaultToolName = "exiftool"

// ErrNotFound is returned when no candidate resolves to an executable.
var ErrNotFound = errors.New("exiftool not found")

// Source describes where a resolved path came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceEnv      Source = "env"
	SourceVendored Source = "vendored"
	SourcePath     Source = "path"
)

// Resolution is a located exiftool binary.
type Resolution struct {
	Path   string
	Source Source
}

// Overridable in tests.
var (
	executablePath = os.Executable
	lookPath       = exec.LookPath
	getenv         = os.Getenv
)

// Locate returns the path of the exiftool binary to spawn.
func Locate(explicit string) (string, error) {
	res, err := Resolve(explicit)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Resolve is like Locate but also reports which rule matched.
// An explicit or env path that does not resolve is an error rather than
// a fallthrough, so a typo never silently picks another binary.
func Resolve(explicit string) (Resolution, error) {
	if explicit != "" {
		p, err := lookPath(explicit)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: explicit path %q: %w", ErrNotFound, explicit, err)
		}
		return Resolution{Path: p, Source: SourceExplicit}, nil
	}

	if env := getenv(EnvToolPath); env != "" {
		p, err := lookPath(env)
		if err != nil {
			return Resolution{}, fmt.Errorf("%w: %s=%q: %w", ErrNotFound, EnvToolPath, env, err)
		}
		return Resolution{Path: p, Source: SourceEnv}, nil
	}

	if p, ok := vendored(); ok {
		return Resolution{Path: p, Source: SourceVendored}, nil
	}

	p, err := lookPath(DefaultToolName)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return Resolution{Path: p, Source: SourcePath}, nil
}

// vendored searches vendor/Image-ExifTool-*/exiftool beside the running
// binary and one directory up.
func vendored() (string, bool) {
	exe, err := executablePath()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)

	for _, base := range []string{dir, filepath.Dir(dir)} {
		matches, err := filepath.Glob(filepath.Join(base, "vendor", "Image-ExifTool-*", DefaultToolName))
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				return m, true
			}
		}
	}
	return "", false
}

// Checksum returns the hex SHA256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
