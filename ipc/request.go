package ipc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Startup arguments for the two process modes.
var (
	// OneShotArgs prefix the caller's arguments for a single invocation.
	OneShotArgs = []string{"-q", "-json"}
	// StayOpenArgs start a persistent session that reads argument lines
	// from stdin.
	StayOpenArgs = []string{"-stay_open", "True", "-@", "-"}
)

// requestTrailer selects quiet JSON output. EncodeRequest follows it with
// the stderr marker and a numbered -execute.
var requestTrailer = []string{"-q", "-json"}

// shutdownFrame asks a stay_open process to exit once its queue drains.
const shutdownFrame = "-stay_open\nFalse\n"

// ErrInvalidArgument is returned for arguments that would break line framing.
var ErrInvalidArgument = errors.New("invalid argument")

// ValidateArgs rejects arguments containing line breaks; each argument is
// written as exactly one line in stay_open mode.
func ValidateArgs(args []string) error {
	for i, arg := range args {
		if strings.ContainsAny(arg, "\r\n") {
			return fmt.Errorf("%w: argument %d contains a line break", ErrInvalidArgument, i)
		}
	}
	return nil
}

// EncodeRequest builds one stay_open request frame: the caller's argument
// lines, -q and -json, then "-echo4 {ready<seq>}" and "-execute<seq>".
//
// After running the frame exiftool prints ReadyMarker(seq) on stdout, and
// the -echo4 text puts the same marker on stderr once every error line of
// the request has been written. The two markers bound the request's output
// on each stream.
func EncodeRequest(seq uint64, args []string) []byte {
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(arg)
		b.WriteByte('\n')
	}
	for _, arg := range requestTrailer {
		b.WriteString(arg)
		b.WriteByte('\n')
	}
	b.WriteString("-echo4\n")
	b.WriteString(ReadyMarker(seq))
	b.WriteString("\n-execute")
	b.WriteString(strconv.FormatUint(seq, 10))
	b.WriteByte('\n')
	return []byte(b.String())
}

// ReadyMarker returns the line that ends request seq's output.
func ReadyMarker(seq uint64) string {
	return "{ready" + strconv.FormatUint(seq, 10) + "}"
}

// EncodeShutdown returns the frame that ends a stay_open session.
func EncodeShutdown() []byte {
	return []byte(shutdownFrame)
}

// OneShotCommandArgs returns the full argument list for a one-shot run.
func OneShotCommandArgs(args []string) []string {
	out := make([]string, 0, len(OneShotArgs)+len(args))
	out = append(out, OneShotArgs...)
	return append(out, args...)
}
