package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pithecene-io/exifpipe/iox"
	"github.com/pithecene-io/exifpipe/types"
)

// tempPrefix names staged files in os.TempDir().
const tempPrefix = "exifpipe-"

// ReadStream stages r into a temporary file, because exiftool only reads
// named files in -stay_open mode, and sends the file's path followed by
// args. The file is closed and removed when the request settles, whatever
// the outcome.
//
// A removal failure is reported as a *CleanupError: on its own when the
// request succeeded, folded with the request's error (multierr) when it
// failed.
func (s *Session) ReadStream(ctx context.Context, r io.Reader, args ...string) *Pending {
	path := filepath.Join(os.TempDir(), tempPrefix+uuid.NewString())

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return s.failed(args, fmt.Errorf("failed to create staging file: %w", err))
	}
	cleanup := s.cleanupStaged(f)

	n, copyErr := io.Copy(f, r)
	if err := multierr.Append(copyErr, f.Close()); err != nil {
		p := newPending(0, args, cleanup)
		p.settle(types.Failure(fmt.Errorf("failed to stage stream: %w", err)))
		return p
	}
	s.collector.IncFileStaged(n)
	s.logger.Debug("staged stream", map[string]any{"path": path, "bytes": n})

	return s.send(ctx, append([]string{path}, args...), cleanup)
}

// failed returns a handle already settled with err.
func (s *Session) failed(args []string, err error) *Pending {
	p := newPending(0, args, nil)
	p.settle(types.Failure(err))
	return p
}

func (s *Session) cleanupStaged(f *os.File) func(types.Result) types.Result {
	return func(r types.Result) types.Result {
		err := iox.CloseAndRemove(f)
		if err == nil {
			return r
		}
		s.collector.IncCleanupFailure()
		s.logger.Warn("failed to remove staging file", map[string]any{
			"path":  f.Name(),
			"error": err.Error(),
		})
		return foldCleanup(r, &CleanupError{Path: f.Name(), Err: err})
	}
}

// foldCleanup combines a request's result with a cleanup failure.
func foldCleanup(r types.Result, cleanupErr *CleanupError) types.Result {
	if r.Err != nil {
		return types.Failure(multierr.Append(r.Err, cleanupErr))
	}
	return types.Failure(cleanupErr)
}
