package ipc

import (
	"strings"
	"testing"
)

// buildLargeFrame returns one frame with n tag lines, similar in shape to
// exiftool -a -G output for a camera JPEG.
func buildLargeFrame(n int) []byte {
	var b strings.Builder
	b.WriteString("[{\n  \"SourceFile\": \"/data/img.jpg\"")
	for i := 0; i < n; i++ {
		b.WriteString(",\n  \"Tag")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\": \"some value that is moderately long\"")
	}
	b.WriteString(Delimiter)
	return []byte(b.String())
}

// BenchmarkFrameDecoder_SmallChunks feeds a large frame in 512-byte chunks,
// the case the scan cursor exists for.
func BenchmarkFrameDecoder_SmallChunks(b *testing.B) {
	frame := buildLargeFrame(2000)
	b.SetBytes(int64(len(frame)))
	b.ReportAllocs()

	for b.Loop() {
		d := NewFrameDecoder()
		var got int
		for off := 0; off < len(frame); off += 512 {
			end := min(off+512, len(frame))
			got += len(d.Feed(frame[off:end]))
		}
		if got != 1 {
			b.Fatalf("got %d frames, want 1", got)
		}
	}
}

func BenchmarkFrameDecoder_WholeFrame(b *testing.B) {
	frame := buildLargeFrame(2000)
	b.SetBytes(int64(len(frame)))
	b.ReportAllocs()

	for b.Loop() {
		if out := NewFrameDecoder().Feed(frame); len(out) != 1 {
			b.Fatalf("got %d frames, want 1", len(out))
		}
	}
}
