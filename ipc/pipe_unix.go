//go:build unix

package ipc

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isPipeClosedErrno(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
