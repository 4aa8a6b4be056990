package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/exifpipe/cache"
	"github.com/pithecene-io/exifpipe/iox"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/runtime"
	"github.com/pithecene-io/exifpipe/types"
)

// stdinInput is the input name that reads the file from standard input.
const stdinInput = "-"

// File statuses.
const (
	statusOK     = "ok"
	statusCached = "cached"
	statusFailed = "failed"
)

// FileResult is the outcome for one extract input. A directory input
// carries one record per file exiftool found in it.
type FileResult struct {
	Input    string         `json:"input"`
	Status   string         `json:"status"`
	FileType string         `json:"file_type,omitempty"`
	Error    string         `json:"error,omitempty"`
	Records  types.Metadata `json:"records,omitempty"`

	err error
}

// Failed reports whether the input produced no records.
func (r FileResult) Failed() bool {
	return r.Status == statusFailed
}

// runner issues one request per input and collects the settled results.
type runner struct {
	rt          runtime.Config
	mode        runtime.Mode
	args        []string
	stage       bool
	concurrency int
	cache       cache.Cache
	stdin       io.Reader
	logger      *log.Logger

	// onSettle, when set, receives each result as soon as it is final.
	// Oneshot mode calls it concurrently.
	onSettle func(FileResult)
}

// run extracts every input. Results come back in input order. The error
// is non-nil only when exiftool could not be launched.
func (r *runner) run(ctx context.Context, inputs []string) ([]FileResult, error) {
	if r.logger == nil {
		r.logger = log.Nop()
	}
	if r.cache == nil {
		r.cache = cache.Nop{}
	}

	results := make([]FileResult, len(inputs))
	keys := make([]string, len(inputs))
	var todo, cached []int
	for i, input := range inputs {
		md, key, ok := r.lookup(ctx, input)
		if ok {
			results[i] = FileResult{Input: input, Status: statusCached, FileType: fileTypes(md), Records: md}
			cached = append(cached, i)
			continue
		}
		keys[i] = key
		todo = append(todo, i)
	}

	if len(todo) > 0 {
		var err error
		if r.mode == runtime.ModeOneShot {
			err = r.runOneShot(ctx, inputs, todo, results)
		} else {
			err = r.runSession(ctx, inputs, todo, results)
		}
		if err != nil {
			return nil, err
		}
	}
	// Cached results settle once exiftool is known to run.
	for _, i := range cached {
		r.settled(results[i])
	}

	for _, i := range todo {
		if keys[i] == "" || results[i].Failed() {
			continue
		}
		if err := r.cache.Put(ctx, keys[i], results[i].Records); err != nil {
			r.logger.Warn("cache put failed", map[string]any{"input": inputs[i], "error": err.Error()})
		}
	}
	return results, nil
}

func (r *runner) settled(res FileResult) {
	if r.onSettle != nil {
		r.onSettle(res)
	}
}

// lookup consults the cache for a regular file. Directories and stdin are
// never cached. Cache errors count as misses.
func (r *runner) lookup(ctx context.Context, input string) (md types.Metadata, key string, hit bool) {
	if input == stdinInput {
		return nil, "", false
	}
	info, err := os.Stat(input)
	if err != nil || !info.Mode().IsRegular() {
		return nil, "", false
	}

	key = cache.Key(input, info, r.args)
	md, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache get failed", map[string]any{"input": input, "error": err.Error()})
		return nil, key, false
	}
	return md, key, ok
}

// runOneShot spawns one exiftool per input, at most concurrency at a time.
func (r *runner) runOneShot(ctx context.Context, inputs []string, todo []int, results []FileResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.concurrency))

	for _, i := range todo {
		input := inputs[i]
		g.Go(func() error {
			var stdin io.Reader
			if input == stdinInput {
				stdin = r.stdin
			}
			p, err := runtime.ExecOnce(gctx, r.rt, stdin, append(append([]string(nil), r.args...), input)...)
			if err != nil {
				return err
			}
			md, err := p.Wait(gctx)
			results[i] = settle(input, md, err)
			r.settled(results[i])
			return nil
		})
	}
	return g.Wait()
}

// runSession pipelines every input through one -stay_open process: all
// requests are written before any response is awaited.
func (r *runner) runSession(ctx context.Context, inputs []string, todo []int, results []FileResult) error {
	sess, err := runtime.Open(ctx, r.rt)
	if err != nil {
		return err
	}

	pending := make([]*runtime.Pending, len(inputs))
	staged := make([]bool, len(inputs))
	if r.stage {
		r.stageAll(ctx, sess, inputs, todo, pending, staged, results)
	} else {
		for _, i := range todo {
			if inputs[i] == stdinInput {
				pending[i] = sess.ReadStream(ctx, r.stdin, r.args...)
				staged[i] = true
				continue
			}
			pending[i] = sess.Send(ctx, append(append([]string(nil), r.args...), inputs[i])...)
		}
	}

	if err := sess.Close(); err != nil {
		r.logger.Warn("session close failed", map[string]any{"error": err.Error()})
	}

	for _, i := range todo {
		if pending[i] == nil {
			continue
		}
		md, err := pending[i].Wait(ctx)
		if staged[i] {
			relabel(md, inputs[i])
		}
		results[i] = settle(inputs[i], md, err)
		r.settled(results[i])
	}

	if _, err := sess.Wait(ctx); err != nil {
		r.logger.Warn("session did not exit", map[string]any{"error": err.Error()})
	}
	if err := sess.Err(); err != nil {
		r.logger.Warn("session received unclaimed output", map[string]any{"error": err.Error()})
	}
	return nil
}

// stageAll copies each regular file into a temporary file before sending
// it, concurrency files at a time. Directories are sent as-is.
func (r *runner) stageAll(ctx context.Context, sess *runtime.Session, inputs []string, todo []int, pending []*runtime.Pending, staged []bool, results []FileResult) {
	var g errgroup.Group
	g.SetLimit(max(1, r.concurrency))

	for _, i := range todo {
		input := inputs[i]
		g.Go(func() error {
			if input == stdinInput {
				pending[i] = sess.ReadStream(ctx, r.stdin, r.args...)
				staged[i] = true
				return nil
			}
			info, err := os.Stat(input)
			if err == nil && info.IsDir() {
				pending[i] = sess.Send(ctx, append(append([]string(nil), r.args...), input)...)
				return nil
			}
			f, err := os.Open(input)
			if err != nil {
				results[i] = settle(input, nil, err)
				r.settled(results[i])
				return nil
			}
			defer iox.DiscardClose(f)
			pending[i] = sess.ReadStream(ctx, f, r.args...)
			staged[i] = true
			return nil
		})
	}
	_ = g.Wait()
}

// relabel points records read from a staged copy back at the input.
func relabel(md types.Metadata, input string) {
	for _, rec := range md {
		rec[types.TagSourceFile] = input
		if input == stdinInput {
			delete(rec, types.TagFileName)
			delete(rec, types.TagDirectory)
			continue
		}
		if _, ok := rec[types.TagFileName]; ok {
			rec[types.TagFileName] = filepath.Base(input)
		}
		if _, ok := rec[types.TagDirectory]; ok {
			rec[types.TagDirectory] = filepath.Dir(input)
		}
	}
}

func settle(input string, md types.Metadata, err error) FileResult {
	if err != nil {
		return FileResult{Input: input, Status: statusFailed, Error: err.Error(), err: err}
	}
	return FileResult{Input: input, Status: statusOK, FileType: fileTypes(md), Records: md}
}

// fileTypes joins the distinct file types of md.
func fileTypes(md types.Metadata) string {
	seen := make(map[string]struct{})
	for _, rec := range md {
		if ft := rec.FileType(); ft != "" {
			seen[ft] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ft := range seen {
		out = append(out, ft)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// isSessionFailure reports errors that mean the process failed rather
// than the input.
func isSessionFailure(err error) bool {
	return runtime.IsProcessIOError(err) ||
		errors.Is(err, runtime.ErrSessionClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
