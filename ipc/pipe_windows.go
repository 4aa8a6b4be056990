//go:build windows

package ipc

import (
	"errors"

	"golang.org/x/sys/windows"
)

func isPipeClosedErrno(err error) bool {
	return errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, windows.WSAECONNRESET)
}
