package ipc

import "bytes"

// ErrorLineDecoder splits a continuously appended stderr stream into
// newline-terminated lines. Empty lines are dropped.
type ErrorLineDecoder struct {
	scan scanBuffer
}

// NewErrorLineDecoder creates an error line decoder.
func NewErrorLineDecoder() *ErrorLineDecoder {
	return &ErrorLineDecoder{scan: scanBuffer{delim: []byte("\n")}}
}

// Feed appends chunk and returns every non-empty line completed by it,
// without its terminator. A CRLF terminator counts as one, so exiftool's
// Windows line endings are dropped; any other carriage return is part of
// the line.
func (d *ErrorLineDecoder) Feed(chunk []byte) []string {
	var lines []string
	d.scan.feed(chunk, func(unit []byte) {
		line := bytes.TrimSuffix(bytes.TrimSuffix(unit, []byte("\n")), []byte("\r"))
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	})
	return lines
}

// Buffered returns the number of bytes waiting for a newline.
func (d *ErrorLineDecoder) Buffered() int {
	return d.scan.buffered()
}

// Reset discards buffered bytes.
func (d *ErrorLineDecoder) Reset() {
	d.scan.reset()
}
