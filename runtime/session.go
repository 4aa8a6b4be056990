package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pithecene-io/exifpipe/ipc"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// Session pipelines requests over one exiftool process.
//
// Every Send pushes a handle onto a FIFO and writes a frame numbered with
// the handle's ID. exiftool ends each request's stdout with "{readyN}" and,
// through -echo4, its stderr with the same marker. Output read from a stream
// is held until that stream's marker names its request, and a request
// settles once both of its markers have arrived, so stdout and stderr may
// race without moving output between requests. The push and the write
// happen under one lock so queue order always equals the order frames
// reach stdin.
type Session struct {
	id        string
	mode      Mode
	sup       *Supervisor
	logger    *log.Logger
	collector *metrics.Collector

	// writeMu serializes request frames and guards closed and nextID.
	writeMu sync.Mutex
	closed  bool
	nextID  uint64

	// mu guards the queue and is shared with the dispatcher.
	mu           sync.Mutex
	queue        []*Pending
	exited       bool
	unclaimedErr error
	// Output read since the last marker on each stream.
	stdoutBuf []types.Result
	stderrBuf []error

	done chan struct{}
}

// Open spawns exiftool in -stay_open mode, reading requests from stdin.
// Canceling ctx kills the process.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	s, _, err := start(ctx, cfg, ModeSession, ipc.StayOpenArgs, supervisorOptions{pipeStdin: true})
	return s, err
}

// start spawns a session. A one-shot session is seeded with one implicit
// request, returned as seed, before any output can arrive.
func start(ctx context.Context, cfg Config, mode Mode, args []string, opts supervisorOptions) (*Session, *Pending, error) {
	id := uuid.NewString()
	cfg.Collector.IncSessionStarted()

	resolved, err := cfg.resolve()
	if err != nil {
		cfg.Collector.IncLaunchFailure()
		return nil, nil, err
	}
	resolved.Logger = resolved.Logger.With(log.Context{
		SessionID: id,
		Mode:      string(mode),
		Tool:      resolved.ToolPath,
	})

	s := &Session{
		id:        id,
		mode:      mode,
		logger:    resolved.Logger,
		collector: resolved.Collector,
		done:      make(chan struct{}),
	}

	var seed *Pending
	if mode == ModeOneShot {
		s.nextID++
		seed = newPending(s.nextID, args, nil)
		s.queue = append(s.queue, seed)
	}

	sup, err := startSupervisor(ctx, resolved, args, opts)
	if err != nil {
		return nil, nil, err
	}
	s.sup = sup

	go s.dispatch()
	return s, seed, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Mode reports whether this is a persistent or one-shot session.
func (s *Session) Mode() Mode {
	return s.mode
}

// Send writes one request frame (args followed by -q -json, the stderr
// marker and a numbered -execute) and returns its handle. Send never blocks on the response. Failures to
// enqueue settle the handle immediately:
//   - ctx already done: ctx.Err()
//   - an argument contains a line break: ipc.ErrInvalidArgument
//   - after Close: ErrSessionClosed
//   - after exit: *ProcessIOError wrapping ErrProcessExited
//   - a failed write: the write's error
func (s *Session) Send(ctx context.Context, args ...string) *Pending {
	return s.send(ctx, args, nil)
}

func (s *Session) send(ctx context.Context, args []string, finalize func(types.Result) types.Result) *Pending {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.nextID++
	p := newPending(s.nextID, args, finalize)

	if err := ctx.Err(); err != nil {
		p.settle(types.Failure(err))
		return p
	}
	if err := ipc.ValidateArgs(args); err != nil {
		p.settle(types.Failure(err))
		return p
	}
	if s.closed {
		p.settle(types.Failure(ErrSessionClosed))
		return p
	}

	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		p.settle(types.Failure(&ProcessIOError{Op: "write", Stream: StreamStdin, Err: ErrProcessExited}))
		return p
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	if err := s.sup.Write(ipc.EncodeRequest(p.id, args)); err != nil {
		if s.remove(p) {
			p.settle(types.Failure(err))
		}
		return p
	}
	s.collector.IncRequestSent()
	return p
}

// remove drops p from the queue, reporting whether it was still there.
func (s *Session) remove(p *Pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Close asks exiftool to exit once queued requests are answered, then
// closes stdin. It does not kill the process and is idempotent.
func (s *Session) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.mode == ModeSession {
		err = s.sup.Write(ipc.EncodeShutdown())
	}
	return multierr.Append(err, s.sup.CloseInput())
}

// Kill terminates exiftool. Requests still pending settle with a
// *ProcessIOError.
func (s *Session) Kill() error {
	return s.sup.Kill()
}

// Done is closed once the process has exited and every request has settled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Done or ctx is done and returns the exit state.
func (s *Session) Wait(ctx context.Context) (*ExitState, error) {
	select {
	case <-s.done:
		return s.sup.ExitState(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the first output no request could claim, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unclaimedErr
}

// Pending returns the number of outstanding requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// dispatch settles handles from supervisor events until the process exits,
// then fails whatever is still pending.
func (s *Session) dispatch() {
	defer close(s.done)

	for ev := range s.sup.Events() {
		s.handle(ev)
	}
	<-s.sup.Done()
	s.drain(s.sup.ExitState())
}

func (s *Session) handle(ev Event) {
	var (
		stray    []Event
		complete []*Pending
		matched  = true
	)

	s.mu.Lock()
	switch {
	case ev.Ready:
		stray, matched = s.markLocked(ev)
		complete = s.popCompleteLocked()
	case awaiting(s.queue, ev.Stream) == nil:
		stray = []Event{ev}
	case ev.Stream == StreamStdout:
		s.stdoutBuf = append(s.stdoutBuf, ev.Result)
	default:
		s.stderrBuf = append(s.stderrBuf, ev.Result.Err)
	}
	s.mu.Unlock()

	if !matched {
		s.logger.Debug("ready marker matched no request", map[string]any{
			"stream": string(ev.Stream),
			"seq":    ev.Seq,
		})
	}
	for _, e := range stray {
		s.unclaimedEvent(e)
	}
	for _, p := range complete {
		p.settle(s.outcome(p))
	}
}

// markLocked hands the output buffered on ev.Stream to the request the
// marker names. Buffered output with no such request comes back as stray
// events.
func (s *Session) markLocked(ev Event) (stray []Event, matched bool) {
	p := awaiting(s.queue, ev.Stream)
	if ev.Seq != 0 {
		p = s.findLocked(ev.Seq)
	}

	if ev.Stream == StreamStdout {
		buf := s.stdoutBuf
		s.stdoutBuf = nil
		if p == nil || p.stdoutEnd {
			return strayResults(buf), false
		}
		p.frames = append(p.frames, buf...)
		p.stdoutEnd = true
		return nil, true
	}

	buf := s.stderrBuf
	s.stderrBuf = nil
	if p == nil || p.stderrEnd {
		return strayErrors(buf), false
	}
	p.errs = append(p.errs, buf...)
	p.stderrEnd = true
	return nil, true
}

func (s *Session) findLocked(id uint64) *Pending {
	for _, p := range s.queue {
		if p.id == id {
			return p
		}
	}
	return nil
}

// popCompleteLocked removes the complete requests at the head of the queue.
func (s *Session) popCompleteLocked() []*Pending {
	var out []*Pending
	for len(s.queue) > 0 && s.queue[0].complete() {
		out = append(out, s.queue[0])
		s.queue[0] = nil
		s.queue = s.queue[1:]
	}
	return out
}

// awaiting returns the oldest request whose marker on stream has not
// arrived.
func awaiting(queue []*Pending, stream Stream) *Pending {
	for _, p := range queue {
		if (stream == StreamStdout && !p.stdoutEnd) || (stream == StreamStderr && !p.stderrEnd) {
			return p
		}
	}
	return nil
}

func strayResults(results []types.Result) []Event {
	out := make([]Event, 0, len(results))
	for _, r := range results {
		out = append(out, Event{Stream: StreamStdout, Result: r})
	}
	return out
}

func strayErrors(errs []error) []Event {
	out := make([]Event, 0, len(errs))
	for _, err := range errs {
		out = append(out, Event{Stream: StreamStderr, Result: types.Failure(err)})
	}
	return out
}

// outcome builds a request's result from its collected output: the
// response frame if there is one, else its stderr lines folded into one
// error, else *NoDataError. Error lines next to a frame are logged.
func (s *Session) outcome(p *Pending) types.Result {
	var errs error
	for _, err := range p.errs {
		errs = multierr.Append(errs, err)
	}

	if len(p.frames) == 0 {
		if errs == nil {
			return types.Failure(&NoDataError{})
		}
		return types.Failure(errs)
	}

	for _, extra := range p.frames[1:] {
		s.unclaimedEvent(Event{Stream: StreamStdout, Result: extra})
	}
	if errs != nil {
		s.logger.Warn("exiftool reported errors alongside a response", map[string]any{
			"request": p.id,
			"error":   errs.Error(),
		})
	}
	return p.frames[0]
}

// unclaimedEvent records output that no request could claim.
func (s *Session) unclaimedEvent(ev Event) {
	s.mu.Lock()
	if s.unclaimedErr == nil {
		s.unclaimedErr = unclaimed(ev)
	}
	s.mu.Unlock()

	s.collector.IncUnclaimedEvent()
	fields := map[string]any{"stream": string(ev.Stream)}
	if ev.Result.Err != nil {
		fields["error"] = ev.Result.Err.Error()
	} else {
		fields["records"] = len(ev.Result.Metadata)
	}
	s.logger.Warn("unclaimed exiftool output", fields)
}

func unclaimed(ev Event) error {
	if ev.Result.Err != nil {
		return fmt.Errorf("%w: %w", ErrUnclaimedEvent, ev.Result.Err)
	}
	return fmt.Errorf("%w: response with %d records", ErrUnclaimedEvent, len(ev.Result.Metadata))
}

// drain settles every request left at exit. Output whose marker never
// arrived belongs to the oldest request still waiting on that stream; a
// request with any collected output settles from it, the rest fail with
// the exit error.
func (s *Session) drain(exit *ExitState) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.exited = true

	var stray []Event
	if p := awaiting(pending, StreamStdout); p != nil {
		p.frames = append(p.frames, s.stdoutBuf...)
	} else {
		stray = append(stray, strayResults(s.stdoutBuf)...)
	}
	if p := awaiting(pending, StreamStderr); p != nil {
		p.errs = append(p.errs, s.stderrBuf...)
	} else {
		stray = append(stray, strayErrors(s.stderrBuf)...)
	}
	s.stdoutBuf, s.stderrBuf = nil, nil
	s.mu.Unlock()

	for _, ev := range stray {
		s.unclaimedEvent(ev)
	}

	var exitErr error
	for _, p := range pending {
		if p.collected() {
			p.settle(s.outcome(p))
			continue
		}
		if exitErr == nil {
			exitErr = s.exitError(exit)
		}
		if IsProcessIOError(exitErr) {
			s.collector.IncProcessIOError()
		}
		p.settle(types.Failure(exitErr))
	}

	s.logger.Info("session finished", map[string]any{
		"exit_code":       exit.ExitCode,
		"frames_decoded":  exit.FramesDecoded,
		"pending_at_exit": len(pending),
	})
}

// exitError is the failure for requests still pending at exit.
func (s *Session) exitError(exit *ExitState) error {
	switch {
	case exit.StdoutErr != nil:
		return &ProcessIOError{Op: "read", Stream: StreamStdout, Err: exit.StdoutErr}
	case exit.StderrErr != nil:
		return &ProcessIOError{Op: "read", Stream: StreamStderr, Err: exit.StderrErr}
	case s.mode == ModeOneShot && exit.Clean():
		return &NoDataError{}
	default:
		return &ProcessIOError{Op: "exit", Err: fmt.Errorf("%w (exit code %d)", ErrProcessExited, exit.ExitCode)}
	}
}
