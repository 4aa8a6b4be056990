package runtime

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionClosed settles requests sent after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrProcessExited is wrapped by the ProcessIOError that settles requests
	// still pending when exiftool exits.
	ErrProcessExited = errors.New("exiftool exited with requests pending")
	// ErrNotStarted is wrapped when stdin is found closed before exiftool
	// produced any output.
	ErrNotStarted = errors.New("exiftool closed its input before producing output")
	// ErrUnclaimedEvent wraps events that arrived with no request pending.
	ErrUnclaimedEvent = errors.New("unclaimed exiftool output")
)

// Stream names one of the subprocess's standard streams.
type Stream string

const (
	StreamStdin  Stream = "stdin"
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ToolError is one line exiftool printed on stderr, kept verbatim apart
// from its line terminator. A CRLF terminator is removed whole, so Line
// never ends in the carriage return of a Windows line ending.
type ToolError struct {
	Line string
}

func (e *ToolError) Error() string {
	return e.Line
}

// Error line prefixes naming a missing file. The second form is printed by
// exiftool 12 and later.
var notFoundPrefixes = []string{
	"File not found: ",
	"Error: File not found - ",
}

// Path returns the file named by a "File not found" line, or "".
func (e *ToolError) Path() string {
	for _, prefix := range notFoundPrefixes {
		if rest, ok := strings.CutPrefix(e.Line, prefix); ok {
			return rest
		}
	}
	return ""
}

// IsNotFound reports whether the line says a file does not exist.
func (e *ToolError) IsNotFound() bool {
	for _, prefix := range notFoundPrefixes {
		if strings.HasPrefix(e.Line, prefix) {
			return true
		}
	}
	return false
}

// kind is the metrics label for a tool error.
func (e *ToolError) kind() string {
	if e.IsNotFound() {
		return "not_found"
	}
	return "other"
}

// ProcessIOError reports a failure of the subprocess's streams: an
// unexpected read or write error, or an exit with requests outstanding.
type ProcessIOError struct {
	// Op is "write", "read" or "exit".
	Op     string
	Stream Stream
	Err    error
}

func (e *ProcessIOError) Error() string {
	if e.Stream != "" {
		return fmt.Sprintf("exiftool %s %s: %v", e.Stream, e.Op, e.Err)
	}
	return fmt.Sprintf("exiftool %s: %v", e.Op, e.Err)
}

func (e *ProcessIOError) Unwrap() error {
	return e.Err
}

// NoDataError reports that exiftool finished without a response frame or
// an error line.
type NoDataError struct{}

func (e *NoDataError) Error() string {
	return "no data from exiftool"
}

// CleanupError reports a staged temporary file that could not be removed.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to remove staged file %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// IsToolError returns true if err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// IsNotFound returns true if err wraps a "File not found" *ToolError.
func IsNotFound(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr) && toolErr.IsNotFound()
}

// IsProcessIOError returns true if err is or wraps a *ProcessIOError.
func IsProcessIOError(err error) bool {
	var ioErr *ProcessIOError
	return errors.As(err, &ioErr)
}

// IsNoData returns true if err is or wraps a *NoDataError.
func IsNoData(err error) bool {
	var noData *NoDataError
	return errors.As(err, &noData)
}

// IsCleanupError returns true if err is or wraps a *CleanupError.
// Errors folded with go.uber.org/multierr are searched too.
func IsCleanupError(err error) bool {
	var cleanupErr *CleanupError
	return errors.As(err, &cleanupErr)
}
