package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/pithecene-io/exifpipe/ipc"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/types"
)

// ExecOnce spawns exiftool as `exiftool -q -json <args>` and returns the
// handle for its single implicit request. The handle settles when the
// process exits: with the response frame if one was decoded, else with the
// stderr lines as *ToolError, else with *NoDataError (clean exit) or
// *ProcessIOError.
//
// When stdin is non-nil it is copied to the process's standard input; pass
// "-" in args to have exiftool read it. The error is non-nil only when
// exiftool cannot be launched.
func ExecOnce(ctx context.Context, cfg Config, stdin io.Reader, args ...string) (*Pending, error) {
	_, seed, err := start(ctx, cfg, ModeOneShot, ipc.OneShotCommandArgs(args), supervisorOptions{stdinReader: stdin})
	if err != nil {
		return nil, err
	}
	return seed, nil
}

// ExecOnceBlocking runs `exiftool -q -json <args>` to completion with
// buffered output, then decides:
//   - a complete stderr line: *ToolError with the first such line
//   - a response frame on stdout: its records (*ipc.FrameError if malformed)
//   - otherwise: *NoDataError
func ExecOnceBlocking(ctx context.Context, cfg Config, args ...string) (types.Metadata, error) {
	cfg.Collector.IncSessionStarted()
	resolved, err := cfg.resolve()
	if err != nil {
		cfg.Collector.IncLaunchFailure()
		return nil, err
	}
	logger := resolved.Logger.With(log.Context{Mode: string(ModeOneShot), Tool: resolved.ToolPath})

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, resolved.ToolPath, ipc.OneShotCommandArgs(args)...)
	cmd.Dir = resolved.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(resolved.Env) > 0 {
		cmd.Env = append(os.Environ(), resolved.Env...)
	}

	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		resolved.Collector.IncLaunchFailure()
		return nil, fmt.Errorf("failed to run exiftool: %w", runErr)
	}
	resolved.Collector.IncLaunchSuccess()
	logger.Debug("exiftool finished", map[string]any{
		"exit_code":    cmd.ProcessState.ExitCode(),
		"stdout_bytes": stdout.Len(),
		"stderr_bytes": stderr.Len(),
	})

	if lines := ipc.NewErrorLineDecoder().Feed(stderr.Bytes()); len(lines) > 0 {
		toolErr := &ToolError{Line: lines[0]}
		resolved.Collector.IncToolError(toolErr.kind())
		return nil, toolErr
	}

	if idx := bytes.Index(stdout.Bytes(), []byte(ipc.Delimiter)); idx >= 0 {
		d := ipc.DecodeFrame(stdout.Bytes()[:idx+len(ipc.Delimiter)])
		if d.Err != nil {
			resolved.Collector.IncFrameParseError()
			return nil, d.Err
		}
		resolved.Collector.IncFrameDecoded()
		return d.Metadata, nil
	}

	return nil, &NoDataError{}
}
