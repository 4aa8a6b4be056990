// Package ipc implements the exiftool stdio protocol: request framing on
// stdin, delimiter-framed JSON responses on stdout, and line-framed errors
// on stderr.
package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/exifpipe/types"
)

// Delimiter terminates every JSON response exiftool writes to stdout.
// The closing "}]" of the response array is part of the frame.
const Delimiter = "\n}]\n"

// maxErrorSnippet bounds how much of a malformed frame is kept in a FrameError.
const maxErrorSnippet = 256

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FrameError reports a delimiter-bounded slice that did not parse as a
// JSON array of records.
type FrameError struct {
	Msg     string
	Snippet string
	Err     error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if err is or wraps a *FrameError.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// Decoded is one unit emitted by FrameDecoder: a parsed response, or the
// parse failure for a complete frame.
type Decoded struct {
	Metadata types.Metadata
	Err      error
}

// FrameDecoder splits a continuously appended stdout stream into frames.
// Not safe for concurrent use; the supervisor feeds it from one goroutine.
type FrameDecoder struct {
	scan scanBuffer
}

// NewFrameDecoder creates a frame decoder for Delimiter-terminated frames.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{scan: scanBuffer{delim: []byte(Delimiter)}}
}

// Feed appends chunk and returns every frame completed by it, in the order
// their terminators appear. Incomplete trailing bytes stay buffered.
func (d *FrameDecoder) Feed(chunk []byte) []Decoded {
	var out []Decoded
	d.scan.feed(chunk, func(frame []byte) {
		out = append(out, DecodeFrame(frame))
	})
	return out
}

// Buffered returns the number of bytes waiting for a terminator.
func (d *FrameDecoder) Buffered() int {
	return d.scan.buffered()
}

// Reset discards buffered bytes.
func (d *FrameDecoder) Reset() {
	d.scan.reset()
}

// DecodeFrame parses one complete frame (terminator included).
// Leading whitespace and stay_open "{ready}" marker lines are skipped.
func DecodeFrame(frame []byte) Decoded {
	payload := trimReadyMarkers(frame)

	var md types.Metadata
	if err := json.Unmarshal(payload, &md); err != nil {
		return Decoded{Err: &FrameError{
			Msg:     "failed to parse exiftool response",
			Snippet: snippet(payload),
			Err:     err,
		}}
	}
	if md == nil {
		md = types.Metadata{}
	}
	return Decoded{Metadata: md}
}

var readyPrefix = []byte("{ready")

// trimReadyMarkers strips leading whitespace and any "{ready}" or
// "{readyNNN}" lines exiftool prints after an -execute.
func trimReadyMarkers(p []byte) []byte {
	for {
		p = bytes.TrimLeft(p, " \t\r\n")
		if !bytes.HasPrefix(p, readyPrefix) {
			return p
		}
		nl := bytes.IndexByte(p, '\n')
		if nl < 0 || !isReadyLine(bytes.TrimRight(p[:nl], "\r")) {
			return p
		}
		p = p[nl+1:]
	}
}

func isReadyLine(line []byte) bool {
	_, ok := ParseReady(line)
	return ok
}

// ParseReady reports whether line is a "{ready}" or "{readyNNN}" marker and
// returns NNN, or 0 for the unnumbered form. A trailing carriage return is
// ignored.
func ParseReady(line []byte) (seq uint64, ok bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, readyPrefix) || !bytes.HasSuffix(line, []byte("}")) {
		return 0, false
	}
	digits := line[len(readyPrefix) : len(line)-1]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	if len(digits) == 0 {
		return 0, true
	}
	seq, err := strconv.ParseUint(string(digits), 10, 64)
	return seq, err == nil
}

func snippet(p []byte) string {
	if len(p) > maxErrorSnippet {
		return string(p[:maxErrorSnippet]) + "..."
	}
	return string(p)
}
