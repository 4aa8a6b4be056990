package ipc

import "bytes"

// Response is one unit emitted by ResponseDecoder: a decoded frame, or the
// ready marker that ends a request's stdout output when Ready is set.
type Response struct {
	Decoded
	Ready bool
	// Seq is the ready marker's request number, 0 for "{ready}".
	Seq uint64
}

// ResponseDecoder splits exiftool's stdout into response frames and ready
// markers. Lines that are not markers go through a FrameDecoder, so frames
// are still bounded by Delimiter. A request that printed nothing is visible
// only through its marker.
//
// Not safe for concurrent use.
type ResponseDecoder struct {
	lines  scanBuffer
	frames *FrameDecoder
}

// NewResponseDecoder creates a stdout decoder.
func NewResponseDecoder() *ResponseDecoder {
	return &ResponseDecoder{
		lines:  scanBuffer{delim: []byte("\n")},
		frames: NewFrameDecoder(),
	}
}

// Feed appends chunk and returns the frames and markers it completes, in
// stream order. Bytes left over when a marker arrives without a closing
// Delimiter are reported as a *FrameError ahead of the marker.
func (d *ResponseDecoder) Feed(chunk []byte) []Response {
	var out []Response
	d.lines.feed(chunk, func(line []byte) {
		if seq, ok := ParseReady(bytes.TrimSuffix(line, []byte("\n"))); ok {
			if rest := bytes.TrimSpace(d.frames.scan.buf); len(rest) > 0 {
				out = append(out, Response{Decoded: Decoded{Err: &FrameError{
					Msg:     "unterminated exiftool response",
					Snippet: snippet(rest),
				}}})
			}
			d.frames.Reset()
			out = append(out, Response{Ready: true, Seq: seq})
			return
		}
		for _, dec := range d.frames.Feed(line) {
			out = append(out, Response{Decoded: dec})
		}
	})
	return out
}

// Buffered returns the number of bytes not yet emitted.
func (d *ResponseDecoder) Buffered() int {
	return d.lines.buffered() + d.frames.Buffered()
}

// Reset discards buffered bytes.
func (d *ResponseDecoder) Reset() {
	d.lines.reset()
	d.frames.Reset()
}
