package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/exifpipe/ipc"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

const testTimeout = 10 * time.Second

// openSession opens a session against the fake exiftool and makes sure the
// process is gone when the test ends.
func openSession(t *testing.T, mode string) *Session {
	t.Helper()
	s, err := Open(context.Background(), fakeConfig(t, mode))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Kill()
		select {
		case <-s.Done():
		case <-time.After(testTimeout):
			t.Error("session did not finish after Kill")
		}
	})
	return s
}

func await(t *testing.T, p *Pending) types.Result {
	t.Helper()
	select {
	case <-p.Done():
		r, ok := p.Result()
		if !ok {
			t.Fatal("Result() not ok after Done")
		}
		return r
	case <-time.After(testTimeout):
		t.Fatalf("request %d did not settle", p.ID())
		return types.Result{}
	}
}

func waitExit(t *testing.T, s *Session) *ExitState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	exit, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return exit
}

func TestSession_PNGThenJPEG(t *testing.T) {
	dir := t.TempDir()
	png := writeFixture(t, dir, "placeholder.png", pngMagic)
	jpeg := writeFixture(t, dir, "subway.jpeg", jpegMagic)

	s := openSession(t, fakeNormal)
	first := s.Send(t.Context(), png)
	second := s.Send(t.Context(), jpeg)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r1, r2 := await(t, first), await(t, second)
	if !r1.OK() || !r2.OK() {
		t.Fatalf("results: %v / %v", r1.Err, r2.Err)
	}
	if got := r1.Metadata[0].FileType(); got != "PNG" {
		t.Errorf("first FileType = %q, want PNG", got)
	}
	if got := r2.Metadata[0].FileType(); got != "JPEG" {
		t.Errorf("second FileType = %q, want JPEG", got)
	}

	exit := waitExit(t, s)
	if exit.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", exit.ExitCode)
	}
	if exit.FramesDecoded != 2 {
		t.Errorf("FramesDecoded = %d, want 2", exit.FramesDecoded)
	}
}

func TestSession_PipelinedSendsSettleInIssueOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.png", "b.jpeg", "c.png", "d.jpeg", "e.png", "f.png", "g.jpeg", "h.png"} {
		magic := pngMagic
		if strings.HasSuffix(name, ".jpeg") {
			magic = jpegMagic
		}
		paths = append(paths, writeFixture(t, dir, name, magic))
	}

	for _, mode := range []string{fakeNormal, fakeChunked} {
		t.Run("mode="+mode, func(t *testing.T) {
			s := openSession(t, mode)

			handles := make([]*Pending, len(paths))
			for i, p := range paths {
				handles[i] = s.Send(t.Context(), p)
			}
			for i, h := range handles {
				if h.ID() != uint64(i+1) {
					t.Errorf("handle %d ID = %d, want %d", i, h.ID(), i+1)
				}
			}

			for i, h := range handles {
				r := await(t, h)
				if !r.OK() {
					t.Fatalf("request %d: %v", i, r.Err)
				}
				if got, want := r.Metadata[0].FileName(), filepath.Base(paths[i]); got != want {
					t.Errorf("request %d FileName = %q, want %q", i, got, want)
				}
			}
			if n := s.Pending(); n != 0 {
				t.Errorf("Pending() = %d after all settled, want 0", n)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			waitExit(t, s)
		})
	}
}

func TestSession_FileNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.png")

	s := openSession(t, fakeNormal)
	r := await(t, s.Send(t.Context(), missing))

	if r.OK() {
		t.Fatal("expected failure for missing file")
	}
	if !strings.Contains(r.Err.Error(), "File not found") || !strings.Contains(r.Err.Error(), missing) {
		t.Errorf("error = %q, want File not found naming %s", r.Err, missing)
	}
	var toolErr *ToolError
	if !errors.As(r.Err, &toolErr) {
		t.Fatalf("error type = %T, want *ToolError", r.Err)
	}
	if !toolErr.IsNotFound() || toolErr.Path() != missing {
		t.Errorf("IsNotFound = %v, Path = %q", toolErr.IsNotFound(), toolErr.Path())
	}
}

func TestSession_FailureDoesNotAffectSiblings(t *testing.T) {
	dir := t.TempDir()
	png := writeFixture(t, dir, "ok.png", pngMagic)
	missing := filepath.Join(dir, "missing.jpeg")

	// fakeSlowStdout delivers every stderr line before the frames sent
	// ahead of it.
	for _, mode := range []string{fakeNormal, fakeSlowStdout} {
		t.Run("mode="+mode, func(t *testing.T) {
			s := openSession(t, mode)
			h1 := s.Send(t.Context(), png)
			h2 := s.Send(t.Context(), missing)
			h3 := s.Send(t.Context(), png)

			if r := await(t, h1); !r.OK() || r.Metadata[0].FileName() != "ok.png" {
				t.Errorf("first: %+v", r)
			}
			r := await(t, h2)
			if !IsNotFound(r.Err) || !strings.Contains(r.Err.Error(), missing) {
				t.Errorf("second: got %v, want not found for %s", r.Err, missing)
			}
			if r.Metadata != nil {
				t.Errorf("second: unexpected records %v", r.Metadata)
			}
			if r := await(t, h3); !r.OK() || r.Metadata[0].FileName() != "ok.png" {
				t.Errorf("third: %+v", r)
			}
			if err := s.Err(); err != nil {
				t.Errorf("Err() = %v, want nil", err)
			}
		})
	}
}

func TestSession_ErrorLinesOfOneRequestStayTogether(t *testing.T) {
	dir := t.TempDir()
	png := writeFixture(t, dir, "ok.png", pngMagic)
	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.png")

	s := openSession(t, fakeSlowStdout)
	h1 := s.Send(t.Context(), first, second)
	h2 := s.Send(t.Context(), png)

	r := await(t, h1)
	if !IsNotFound(r.Err) {
		t.Fatalf("first: got %v, want not found", r.Err)
	}
	for _, path := range []string{first, second} {
		if !strings.Contains(r.Err.Error(), path) {
			t.Errorf("first: error %q does not name %s", r.Err, path)
		}
	}
	if r := await(t, h2); !r.OK() || r.Metadata[0].FileType() != "PNG" {
		t.Errorf("second: got %+v, want PNG", r)
	}
}

func TestSession_FrameWinsOverErrorLine(t *testing.T) {
	dir := t.TempDir()
	png := writeFixture(t, dir, "ok.png", pngMagic)
	missing := filepath.Join(dir, "missing.png")

	s := openSession(t, fakeNormal)
	r := await(t, s.Send(t.Context(), png, missing))
	if !r.OK() || len(r.Metadata) != 1 || r.Metadata[0].FileName() != "ok.png" {
		t.Errorf("got %+v, want the ok.png record", r)
	}
}

func TestSession_PNGThenJPEG_StderrAhead(t *testing.T) {
	dir := t.TempDir()
	png := writeFixture(t, dir, "placeholder.png", pngMagic)
	jpeg := writeFixture(t, dir, "subway.jpeg", jpegMagic)

	s := openSession(t, fakeSlowStdout)
	first := s.Send(t.Context(), png)
	second := s.Send(t.Context(), jpeg)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if r := await(t, first); !r.OK() || r.Metadata[0].FileType() != "PNG" {
		t.Errorf("first: %+v", r)
	}
	if r := await(t, second); !r.OK() || r.Metadata[0].FileType() != "JPEG" {
		t.Errorf("second: %+v", r)
	}
	waitExit(t, s)
}

func TestSession_FrameParseErrorThenRecovers(t *testing.T) {
	png := writeFixture(t, t.TempDir(), "ok.png", pngMagic)

	s := openSession(t, fakeGarbageFirst)
	h1 := s.Send(t.Context(), png)
	h2 := s.Send(t.Context(), png)

	if r := await(t, h1); !ipc.IsFrameError(r.Err) {
		t.Errorf("first: got %v, want *ipc.FrameError", r.Err)
	}
	if r := await(t, h2); !r.OK() || r.Metadata[0].FileType() != "PNG" {
		t.Errorf("second: got %+v, want PNG", r)
	}
}

func TestSession_SendAfterClose(t *testing.T) {
	s := openSession(t, fakeNormal)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	r := await(t, s.Send(t.Context(), "x.png"))
	if !errors.Is(r.Err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", r.Err)
	}
	waitExit(t, s)
}

func TestSession_SendAfterExit(t *testing.T) {
	s := openSession(t, fakeExitNow)
	exit := waitExit(t, s)
	if exit.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", exit.ExitCode)
	}

	r := await(t, s.Send(t.Context(), "x.png"))
	if !IsProcessIOError(r.Err) || !errors.Is(r.Err, ErrProcessExited) {
		t.Errorf("err = %v, want *ProcessIOError wrapping ErrProcessExited", r.Err)
	}
}

func TestSession_ToolThatNeverStartsFailsRequest(t *testing.T) {
	s := openSession(t, fakeExitNow)

	// Depending on timing the write either fails with a broken pipe before
	// any output (ErrNotStarted) or lands in the pipe buffer and the request
	// is failed at exit (ErrProcessExited). Both are process I/O failures.
	r := await(t, s.Send(t.Context(), "x.png"))
	if !IsProcessIOError(r.Err) {
		t.Errorf("err = %v (%T), want *ProcessIOError", r.Err, r.Err)
	}
}

func TestSession_KillSettlesEveryPendingRequest(t *testing.T) {
	collector := metrics.NewCollector("session", "", "")
	cfg := fakeConfig(t, fakeStall)
	cfg.Collector = collector

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	handles := []*Pending{
		s.Send(t.Context(), "a.png"),
		s.Send(t.Context(), "b.png"),
		s.Send(t.Context(), "c.png"),
	}
	if n := s.Pending(); n != 3 {
		t.Fatalf("Pending() = %d, want 3", n)
	}

	if err := s.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	for i, h := range handles {
		r := await(t, h)
		if !IsProcessIOError(r.Err) || !errors.Is(r.Err, ErrProcessExited) {
			t.Errorf("request %d: err = %v, want *ProcessIOError wrapping ErrProcessExited", i, r.Err)
		}
	}
	exit := waitExit(t, s)
	if exit.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 (killed)", exit.ExitCode)
	}

	snap := collector.Snapshot()
	if snap.ProcessIOErrors != 3 {
		t.Errorf("ProcessIOErrors = %d, want 3", snap.ProcessIOErrors)
	}
	if snap.RequestsSent != 3 {
		t.Errorf("RequestsSent = %d, want 3", snap.RequestsSent)
	}
}

func TestSession_ContextCancelKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := Open(ctx, fakeConfig(t, fakeStall))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h := s.Send(t.Context(), "a.png")
	cancel()

	if r := await(t, h); !IsProcessIOError(r.Err) {
		t.Errorf("err = %v, want *ProcessIOError", r.Err)
	}
	waitExit(t, s)
}

func TestSession_CanceledSendNeverQueues(t *testing.T) {
	s := openSession(t, fakeNormal)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	r := await(t, s.Send(ctx, "a.png"))
	if !errors.Is(r.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", r.Err)
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestSession_InvalidArgument(t *testing.T) {
	s := openSession(t, fakeNormal)

	r := await(t, s.Send(t.Context(), "a.png\n-execute"))
	if !errors.Is(r.Err, ipc.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", r.Err)
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestSession_UnclaimedEventSetsErr(t *testing.T) {
	collector := metrics.NewCollector("session", "", "")
	cfg := fakeConfig(t, fakeBanner)
	cfg.Collector = collector

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Kill()
		<-s.Done()
	})

	deadline := time.Now().Add(testTimeout)
	for s.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("unclaimed banner never surfaced in Err()")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(s.Err(), ErrUnclaimedEvent) {
		t.Errorf("Err() = %v, want ErrUnclaimedEvent", s.Err())
	}
	if got := collector.Snapshot().UnclaimedEvents; got != 1 {
		t.Errorf("UnclaimedEvents = %d, want 1", got)
	}

	// The session keeps working after an unclaimed event.
	png := writeFixture(t, t.TempDir(), "ok.png", pngMagic)
	if r := await(t, s.Send(t.Context(), png)); !r.OK() {
		t.Errorf("send after unclaimed: %v", r.Err)
	}
}

func TestSession_PendingWaitHonorsContext(t *testing.T) {
	s := openSession(t, fakeStall)
	h := s.Send(t.Context(), "a.png")

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want DeadlineExceeded", err)
	}
	if _, ok := h.Result(); ok {
		t.Error("request settled by a canceled Wait")
	}
	if got := h.Args(); len(got) != 1 || got[0] != "a.png" {
		t.Errorf("Args() = %v", got)
	}
}

func TestOpen_LaunchFailure(t *testing.T) {
	collector := metrics.NewCollector("session", "", "")
	_, err := Open(t.Context(), Config{
		ToolPath:  filepath.Join(t.TempDir(), "no-such-exiftool"),
		Collector: collector,
	})
	if err == nil {
		t.Fatal("expected launch failure")
	}
	if got := collector.Snapshot().LaunchFailure; got != 1 {
		t.Errorf("LaunchFailure = %d, want 1", got)
	}
}

func TestSession_DispatchWaitsForExitState(t *testing.T) {
	// Events closed while the process is not yet marked as reaped.
	sup := &Supervisor{events: make(chan Event), done: make(chan struct{})}
	close(sup.events)

	s := &Session{
		mode:   ModeSession,
		sup:    sup,
		logger: log.Nop(),
		done:   make(chan struct{}),
	}
	p := newPending(1, []string{"a.png"}, nil)
	s.queue = append(s.queue, p)

	go s.dispatch()

	select {
	case <-s.Done():
		t.Fatal("dispatch finished before the exit state was published")
	case <-time.After(20 * time.Millisecond):
	}

	sup.exit = &ExitState{ExitCode: 1}
	close(sup.done)

	r := await(t, p)
	if !IsProcessIOError(r.Err) || !errors.Is(r.Err, ErrProcessExited) {
		t.Errorf("err = %v, want *ProcessIOError wrapping ErrProcessExited", r.Err)
	}
	<-s.Done()
}
