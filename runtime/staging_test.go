package runtime

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"go.uber.org/multierr"

	"github.com/pithecene-io/exifpipe/ipc"
	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// isolateTempDir points os.TempDir at a fresh directory and returns it.
func isolateTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	return dir
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestReadStream_Success(t *testing.T) {
	tmp := isolateTempDir(t)
	collector := metrics.NewCollector("session", "", "")
	cfg := fakeConfig(t, fakeNormal)
	cfg.Collector = collector

	s, err := Open(t.Context(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Kill(); <-s.Done() })

	data := append(append([]byte(nil), jpegMagic...), make([]byte, 100)...)
	r := await(t, s.ReadStream(t.Context(), bytes.NewReader(data), "-fast"))
	if !r.OK() {
		t.Fatalf("ReadStream: %v", r.Err)
	}
	if got := r.Metadata[0].FileType(); got != "JPEG" {
		t.Errorf("FileType = %q, want JPEG", got)
	}
	if !strings.HasPrefix(r.Metadata[0].FileName(), tempPrefix) {
		t.Errorf("FileName = %q, want staged name", r.Metadata[0].FileName())
	}
	if left := stagedFiles(t, tmp); len(left) != 0 {
		t.Errorf("staged files left behind: %v", left)
	}

	snap := collector.Snapshot()
	if snap.FilesStaged != 1 || snap.StagedBytes != int64(len(data)) {
		t.Errorf("FilesStaged = %d, StagedBytes = %d", snap.FilesStaged, snap.StagedBytes)
	}
}

func TestReadStream_FailureStillRemovesFile(t *testing.T) {
	tmp := isolateTempDir(t)
	s := openSession(t, fakeGarbageFirst)

	r := await(t, s.ReadStream(t.Context(), strings.NewReader("plain text")))
	if !ipc.IsFrameError(r.Err) {
		t.Fatalf("err = %v, want *ipc.FrameError", r.Err)
	}
	if left := stagedFiles(t, tmp); len(left) != 0 {
		t.Errorf("staged files left behind: %v", left)
	}
}

func TestReadStream_ClosedSessionRemovesFile(t *testing.T) {
	tmp := isolateTempDir(t)
	s := openSession(t, fakeNormal)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := await(t, s.ReadStream(t.Context(), strings.NewReader("x")))
	if !errors.Is(r.Err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", r.Err)
	}
	if left := stagedFiles(t, tmp); len(left) != 0 {
		t.Errorf("staged files left behind: %v", left)
	}
}

func TestReadStream_ReaderErrorRemovesFile(t *testing.T) {
	tmp := isolateTempDir(t)
	s := openSession(t, fakeNormal)

	boom := errors.New("boom")
	p := s.ReadStream(t.Context(), iotest.ErrReader(boom))
	r := await(t, p)
	if !errors.Is(r.Err, boom) {
		t.Fatalf("err = %v, want boom", r.Err)
	}
	if p.ID() != 0 {
		t.Errorf("ID() = %d, want 0 for a stream that never reached the session", p.ID())
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
	if left := stagedFiles(t, tmp); len(left) != 0 {
		t.Errorf("staged files left behind: %v", left)
	}
}

func TestReadStream_RemovalFailure(t *testing.T) {
	isolateTempDir(t)

	tests := []struct {
		name     string
		data     []byte
		wantTool bool
		wantErrs int
	}{
		{"success", append(append([]byte(nil), pngMagic...), make([]byte, 16)...), false, 1},
		{"failure", []byte("corrupt data"), true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := metrics.NewCollector("session", "", "")
			cfg := fakeConfig(t, fakePinStaged)
			cfg.Collector = collector

			s, err := Open(t.Context(), cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = s.Kill(); <-s.Done() })

			r := await(t, s.ReadStream(t.Context(), bytes.NewReader(tt.data)))
			if r.OK() || r.Metadata != nil {
				t.Fatalf("result = %+v, want a failure without records", r)
			}

			var cleanupErr *CleanupError
			if !errors.As(r.Err, &cleanupErr) {
				t.Fatalf("err = %v, want *CleanupError", r.Err)
			}
			if !strings.HasPrefix(filepath.Base(cleanupErr.Path), tempPrefix) {
				t.Errorf("CleanupError.Path = %q, want a staged file", cleanupErr.Path)
			}
			if IsToolError(r.Err) != tt.wantTool {
				t.Errorf("IsToolError = %v, want %v (%v)", !tt.wantTool, tt.wantTool, r.Err)
			}
			if n := len(multierr.Errors(r.Err)); n != tt.wantErrs {
				t.Errorf("len(multierr.Errors) = %d, want %d", n, tt.wantErrs)
			}
			if got := collector.Snapshot().CleanupFailures; got != 1 {
				t.Errorf("CleanupFailures = %d, want 1", got)
			}
		})
	}
}

func TestFoldCleanup(t *testing.T) {
	cleanupErr := &CleanupError{Path: "/tmp/exifpipe-x", Err: os.ErrPermission}
	primary := errors.New("primary")

	tests := []struct {
		name        string
		in          types.Result
		wantErrs    int
		wantPrimary bool
	}{
		{"success", types.Success(types.Metadata{{"FileType": "PNG"}}), 1, false},
		{"failure", types.Failure(primary), 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := foldCleanup(tt.in, cleanupErr)
			if got.OK() {
				t.Fatal("folded result should fail")
			}
			if got.Metadata != nil {
				t.Errorf("Metadata = %v, want nil", got.Metadata)
			}
			if !IsCleanupError(got.Err) {
				t.Errorf("err = %v, want *CleanupError", got.Err)
			}
			if errors.Is(got.Err, primary) != tt.wantPrimary {
				t.Errorf("errors.Is(primary) mismatch, want %v", tt.wantPrimary)
			}
			if n := len(multierr.Errors(got.Err)); n != tt.wantErrs {
				t.Errorf("len(multierr.Errors) = %d, want %d", n, tt.wantErrs)
			}
		})
	}
}
