package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/exifpipe/ipc"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

const (
	readBufferSize = 32 * 1024
	eventBuffer    = 64
	// waitDelay bounds how long cmd.Wait lingers on a copying goroutine
	// (one-shot stdin) after the process has exited.
	waitDelay = 5 * time.Second
)

// Event is one decoded unit of subprocess output: a parsed response frame
// or frame parse failure from stdout, a *ToolError from stderr, or a ready
// marker on either stream.
type Event struct {
	Stream Stream
	Result types.Result
	// Ready marks the end of request Seq's output on Stream. Result is
	// unset for markers.
	Ready bool
	Seq   uint64
}

// ExitState describes how the subprocess ended.
type ExitState struct {
	// ExitCode is the process exit code, -1 if killed by a signal.
	ExitCode int
	// Err is a wait failure other than a non-zero exit.
	Err error
	// StdoutErr and StderrErr are unexpected read errors (not EOF or a
	// closed pipe).
	StdoutErr error
	StderrErr error
	// FramesDecoded counts successfully parsed response frames.
	FramesDecoded int64
}

// Clean reports whether the process exited 0 with no stream errors.
func (e *ExitState) Clean() bool {
	return e.ExitCode == 0 && e.Err == nil && e.StdoutErr == nil && e.StderrErr == nil
}

// Supervisor owns one exiftool subprocess and its three standard streams.
//
// Stdout and stderr are pumped by two goroutines into their decoders and
// every decoded unit is delivered on Events(). The channel must be drained:
// the pumps block while it is full. Once both streams reach EOF the process
// is reaped, Done() is closed and then Events() is closed.
type Supervisor struct {
	cmd       *exec.Cmd
	logger    *log.Logger
	collector *metrics.Collector

	inMu        sync.Mutex
	stdin       io.WriteCloser // nil when stdin is not piped
	inputClosed bool

	events     chan Event
	stdoutDone chan struct{}
	done       chan struct{}

	frames atomic.Int64

	// Written by the pumps before they return, read by the reaper after.
	stdoutErr error
	stderrErr error

	// Written by the reaper before done is closed.
	exit *ExitState
}

// supervisorOptions control how stdin is attached.
type supervisorOptions struct {
	// pipeStdin exposes stdin through Write. Otherwise stdin is the null
	// device, or stdinReader when set.
	pipeStdin   bool
	stdinReader io.Reader
}

// StartSupervisor spawns exiftool with args and starts pumping its output.
// Canceling ctx kills the process.
func StartSupervisor(ctx context.Context, cfg Config, args []string) (*Supervisor, error) {
	return startSupervisor(ctx, cfg, args, supervisorOptions{pipeStdin: true})
}

func startSupervisor(ctx context.Context, cfg Config, args []string, opts supervisorOptions) (*Supervisor, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		cfg.Collector.IncLaunchFailure()
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cfg.ToolPath, args...)
	cmd.Dir = cfg.Dir
	cmd.WaitDelay = waitDelay
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	s := &Supervisor{
		cmd:        cmd,
		logger:     cfg.Logger,
		collector:  cfg.Collector,
		events:     make(chan Event, eventBuffer),
		stdoutDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	if opts.pipeStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		s.stdin = stdin
	} else {
		cmd.Stdin = opts.stdinReader
		s.inputClosed = true
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cfg.Collector.IncLaunchFailure()
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}
	cfg.Collector.IncLaunchSuccess()
	s.logger.Debug("exiftool started", map[string]any{
		"pid":  cmd.Process.Pid,
		"args": args,
	})

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		defer close(s.stdoutDone)
		s.stdoutErr = s.pumpStdout(stdout)
	}()
	go func() {
		defer pumps.Done()
		s.stderrErr = s.pumpStderr(stderr)
	}()
	// cmd.Wait closes the read ends of the pipes, so it may only run after
	// both pumps have finished reading.
	go func() {
		pumps.Wait()
		s.reap()
	}()

	return s, nil
}

// Events delivers decoded output. Events of one stream arrive in stream
// order; the interleaving of stdout and stderr events is arbitrary.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Done is closed after the process has been reaped, before Events() is
// closed. ExitState is non-nil from then on.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ExitState returns how the process ended, or nil while it is running.
func (s *Supervisor) ExitState() *ExitState {
	select {
	case <-s.done:
		return s.exit
	default:
		return nil
	}
}

// PID returns the subprocess's process ID.
func (s *Supervisor) PID() int {
	return s.cmd.Process.Pid
}

// FramesDecoded returns the number of response frames parsed so far.
func (s *Supervisor) FramesDecoded() int64 {
	return s.frames.Load()
}

// Write forwards p to the subprocess's stdin.
//
// When stdin is already closed or broken, Write waits for stdout to reach
// EOF. If any frame was decoded by then the tool simply finished and hung
// up, and the write is dropped without error. Otherwise the broken pipe is
// reported as a *ProcessIOError wrapping ErrNotStarted.
func (s *Supervisor) Write(p []byte) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	var err error
	if s.inputClosed || s.stdin == nil {
		err = os.ErrClosed
	} else {
		_, err = s.stdin.Write(p)
	}
	if err == nil {
		return nil
	}

	switch ipc.Classify(err) {
	case ipc.ClassPipeClosed:
		<-s.stdoutDone
		if s.frames.Load() > 0 {
			s.logger.Debug("dropped write to closed stdin", map[string]any{"bytes": len(p)})
			return nil
		}
		return &ProcessIOError{Op: "write", Stream: StreamStdin, Err: fmt.Errorf("%w: %w", ErrNotStarted, err)}
	default:
		return &ProcessIOError{Op: "write", Stream: StreamStdin, Err: err}
	}
}

// CloseInput closes stdin, signaling end of work. Closing an already
// closed or broken pipe is not an error.
func (s *Supervisor) CloseInput() error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	if s.inputClosed || s.stdin == nil {
		return nil
	}
	s.inputClosed = true
	if err := s.stdin.Close(); err != nil && !ipc.IsPipeClosed(err) {
		return &ProcessIOError{Op: "close", Stream: StreamStdin, Err: err}
	}
	return nil
}

// Kill forcibly terminates the subprocess. Killing an exited process is a
// no-op.
func (s *Supervisor) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill exiftool: %w", err)
	}
	return nil
}

func (s *Supervisor) pumpStdout(r io.Reader) error {
	dec := ipc.NewResponseDecoder()
	defer dec.Reset()

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, d := range dec.Feed(buf[:n]) {
				if d.Ready {
					s.events <- Event{Stream: StreamStdout, Ready: true, Seq: d.Seq}
					continue
				}
				if d.Err != nil {
					s.collector.IncFrameParseError()
					s.logger.Warn("failed to parse exiftool response", map[string]any{"error": d.Err.Error()})
					s.events <- Event{Stream: StreamStdout, Result: types.Failure(d.Err)}
					continue
				}
				s.frames.Add(1)
				s.collector.IncFrameDecoded()
				s.events <- Event{Stream: StreamStdout, Result: types.Success(d.Metadata)}
			}
		}
		if err != nil {
			if rest := dec.Buffered(); rest > 0 {
				s.logger.Debug("discarding unterminated stdout", map[string]any{"bytes": rest})
			}
			if errors.Is(err, io.EOF) || ipc.IsPipeClosed(err) {
				return nil
			}
			return err
		}
	}
}

func (s *Supervisor) pumpStderr(r io.Reader) error {
	dec := ipc.NewErrorLineDecoder()
	defer dec.Reset()

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				if seq, ok := ipc.ParseReady([]byte(line)); ok {
					s.events <- Event{Stream: StreamStderr, Ready: true, Seq: seq}
					continue
				}
				toolErr := &ToolError{Line: line}
				s.collector.IncToolError(toolErr.kind())
				s.logger.Debug("exiftool error line", map[string]any{"line": line})
				s.events <- Event{Stream: StreamStderr, Result: types.Failure(toolErr)}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ipc.IsPipeClosed(err) {
				return nil
			}
			return err
		}
	}
}

func (s *Supervisor) reap() {
	waitErr := s.cmd.Wait()

	state := &ExitState{
		StdoutErr:     s.stdoutErr,
		StderrErr:     s.stderrErr,
		FramesDecoded: s.frames.Load(),
	}
	if s.cmd.ProcessState != nil {
		state.ExitCode = s.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		state.Err = waitErr
	}

	fields := map[string]any{
		"exit_code":      state.ExitCode,
		"frames_decoded": state.FramesDecoded,
	}
	if state.Err != nil {
		fields["error"] = state.Err.Error()
	}
	if state.StdoutErr != nil {
		fields["stdout_error"] = state.StdoutErr.Error()
	}
	if state.StderrErr != nil {
		fields["stderr_error"] = state.StderrErr.Error()
	}
	s.logger.Debug("exiftool exited", fields)

	s.exit = state
	close(s.done)
	close(s.events)
}
