package ipc

import (
	"errors"
	"io"
	"os"
)

// ErrorClass groups stream errors by how the supervisor treats them.
type ErrorClass int

const (
	// ClassNone is the class of a nil error.
	ClassNone ErrorClass = iota
	// ClassPipeClosed covers errors expected while the tool shuts down:
	// broken pipe, connection reset, or a pipe already closed locally.
	ClassPipeClosed
	// ClassUnexpected is every other error.
	ClassUnexpected
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassPipeClosed:
		return "pipe_closed"
	default:
		return "unexpected"
	}
}

// Classify maps a stream error to its ErrorClass. OS error codes are
// matched per platform (see pipe_unix.go and pipe_windows.go).
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ClassPipeClosed
	case isPipeClosedErrno(err):
		return ClassPipeClosed
	default:
		return ClassUnexpected
	}
}

// IsPipeClosed returns true if err means the other end of a pipe went away.
func IsPipeClosed(err error) bool {
	return Classify(err) == ClassPipeClosed
}
