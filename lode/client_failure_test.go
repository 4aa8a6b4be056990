package lode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/justapithecus/lode/lode"
)

// FailingStore is a lode.Store that returns configurable errors.
type FailingStore struct {
	PutErr    error
	GetErr    error
	ExistsErr error
	ListErr   error
	DeleteErr error

	PutCalls int
	PutPaths []string
}

func (s *FailingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.PutCalls++
	s.PutPaths = append(s.PutPaths, path)
	return s.PutErr
}

func (s *FailingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, s.GetErr
}

func (s *FailingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, s.ExistsErr
}

func (s *FailingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, s.ListErr
}

func (s *FailingStore) Delete(_ context.Context, _ string) error {
	return s.DeleteErr
}

func (s *FailingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *FailingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*FailingStore)(nil)

// FailingStoreFactory creates a factory that returns store.
func FailingStoreFactory(store *FailingStore) lode.StoreFactory {
	return func() (lode.Store, error) {
		return store, nil
	}
}

// FailingFactoryFactory creates a factory that fails to create a store.
func FailingFactoryFactory(err error) lode.StoreFactory {
	return func() (lode.Store, error) {
		return nil, err
	}
}

// timeoutError implements net.Error-style Timeout().
type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }
func (e *timeoutError) Timeout() bool { return true }

func TestLodeClient_WriteFailure_Classified(t *testing.T) {
	tests := []struct {
		name     string
		putErr   error
		wantKind error
	}{
		{"disk full", errors.New("write /data/seg: no space left on device"), ErrDiskFull},
		{"permission denied", errors.New("open /data/seg: permission denied"), ErrPermissionDenied},
		{"s3 auth", errors.New("operation error S3: PutObject, InvalidAccessKeyId"), ErrAuth},
		{"s3 access denied", errors.New("api error AccessDenied: Access Denied"), ErrAccessDenied},
		{"s3 throttled", errors.New("api error SlowDown: please reduce your request rate"), ErrThrottled},
		{"typed timeout", &timeoutError{msg: "RequestTimeout: PutObject timed out after 30s"}, ErrTimeout},
		{"connection refused", errors.New("dial tcp 127.0.0.1:9000: connect: connection refused"), ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &FailingStore{PutErr: tt.putErr}
			client, err := NewLodeClientWithFactory(testConfig(), FailingStoreFactory(store))
			if err != nil {
				t.Fatalf("NewLodeClientWithFactory failed: %v", err)
			}

			writeErr := client.WriteRecords(t.Context(), testMetadata())
			if writeErr == nil {
				t.Fatal("expected write error, got nil")
			}

			var storageErr *StorageError
			if !errors.As(writeErr, &storageErr) {
				t.Fatalf("expected *StorageError, got %T: %v", writeErr, writeErr)
			}
			if !errors.Is(writeErr, tt.wantKind) {
				t.Errorf("kind = %v, want %v", storageErr.Kind, tt.wantKind)
			}
			if storageErr.Op != "write" {
				t.Errorf("Op = %q, want write", storageErr.Op)
			}
		})
	}
}

func TestLodeClient_MetricsWriteFailure(t *testing.T) {
	store := &FailingStore{PutErr: errors.New("no space left on device")}
	client, err := NewLodeClientWithFactory(testConfig(), FailingStoreFactory(store))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	err = client.WriteMetrics(t.Context(), testSnapshot(), fixedTime)
	if !errors.Is(err, ErrDiskFull) {
		t.Errorf("err = %v, want ErrDiskFull", err)
	}
}

func TestLodeClient_FSReadOnlyRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	root := filepath.Join(t.TempDir(), "ro")
	if err := os.Mkdir(root, 0o555); err != nil {
		t.Fatal(err)
	}

	// Failure can occur at factory creation or at write time.
	client, err := NewLodeClient(testConfig(), root)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("init err = %v, want ErrPermissionDenied", err)
		}
		return
	}
	err = client.WriteRecords(t.Context(), testMetadata())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("write err = %v, want ErrPermissionDenied", err)
	}
}

func TestLodeClient_PutFile_StoreInitFailure(t *testing.T) {
	client, err := NewLodeClientWithFactory(testConfig(), FailingFactoryFactory(errors.New("NoCredentialProviders: no valid providers")))
	if err != nil {
		// Dataset construction may already touch the factory.
		if !errors.Is(err, ErrAuth) {
			t.Errorf("init err = %v, want ErrAuth", err)
		}
		return
	}
	err = client.PutFile(t.Context(), "results.json", "application/json", []byte("[]"))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *StorageError, got %T: %v", err, err)
	}
	if storageErr.Op != "init" || !errors.Is(err, ErrAuth) {
		t.Errorf("got op=%q kind=%v, want init/ErrAuth", storageErr.Op, storageErr.Kind)
	}
}
