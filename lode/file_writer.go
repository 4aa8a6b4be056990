package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// ErrInvalidFilename is returned by PutFile for names that would escape
// the session's files/ directory.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

// FileWriter writes sidecar files next to the dataset.
// Files land at Hive-partitioned paths under files/, bypassing Dataset
// segment/manifest machinery entirely.
type FileWriter interface {
	// PutFile writes a file under the session's files/ prefix.
	// The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// PutFile writes a sidecar file at the computed Hive path.
// The store is created lazily from the client's factory.
func (c *LodeClient) PutFile(ctx context.Context, filename, _ string, data []byte) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}

	path := c.buildFilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// buildFilePath computes the path for a sidecar file.
// Format: datasets/<dataset>/files/source=<s>/day=<d>/session_id=<id>/<filename>
func (c *LodeClient) buildFilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/files/source=%s/day=%s/session_id=%s/%s",
		c.config.Dataset,
		c.config.Source,
		c.config.Day,
		c.config.SessionID,
		filename,
	)
}

func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return nil
}

// StubFileWriter records PutFile calls for testing.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is a recorded file write.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter creates a new stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile implements FileWriter by recording the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{
		Filename:    filename,
		ContentType: contentType,
		Data:        bytes.Clone(data),
	})
	return nil
}

var _ FileWriter = (*StubFileWriter)(nil)
