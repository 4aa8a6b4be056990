package ipc

import "bytes"

// scanBuffer is an append-only byte buffer that emits every slice ending in
// delim. The cursor remembers how far previous scans got so each feed only
// rescans new bytes plus len(delim)-1 bytes of overlap.
type scanBuffer struct {
	delim  []byte
	buf    []byte
	cursor int
}

// feed appends chunk and calls emit for each complete unit, delimiter
// included. emit must not retain the slice.
func (s *scanBuffer) feed(chunk []byte, emit func(unit []byte)) {
	s.buf = append(s.buf, chunk...)

	start := 0
	for {
		idx := bytes.Index(s.buf[s.cursor:], s.delim)
		if idx < 0 {
			break
		}
		end := s.cursor + idx + len(s.delim)
		emit(s.buf[start:end])
		start = end
		s.cursor = end
	}

	// Compact consumed bytes to the front so the buffer stays bounded by
	// the largest incomplete unit.
	if start > 0 {
		n := copy(s.buf, s.buf[start:])
		s.buf = s.buf[:n]
		s.cursor -= start
	}

	overlap := len(s.buf) - (len(s.delim) - 1)
	if overlap > s.cursor {
		s.cursor = overlap
	}
}

func (s *scanBuffer) buffered() int {
	return len(s.buf)
}

func (s *scanBuffer) reset() {
	s.buf = nil
	s.cursor = 0
}
