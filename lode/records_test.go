package lode

import (
	"testing"
	"time"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

var fixedTime = time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC)

func testSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		RequestsSent:     2,
		FramesDecoded:    2,
		ToolErrorsByKind: map[string]int64{"not_found": 1},
		Mode:             "oneshot",
		SessionID:        "sess-1",
	}
}

func TestPartitionFileType(t *testing.T) {
	tests := []struct {
		name string
		rec  types.Record
		want string
	}{
		{"flat", types.Record{"FileType": "PNG"}, "PNG"},
		{"grouped", types.Record{"File": map[string]any{"FileType": "JPEG"}}, "JPEG"},
		{"missing", types.Record{"SourceFile": "x"}, unknownFileType},
		{"unsafe chars", types.Record{"FileType": "a/b=c d"}, "a_b_c_d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := partitionFileType(tt.rec); got != tt.want {
				t.Errorf("partitionFileType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToMetadataRecordMap(t *testing.T) {
	rec := types.Record{"SourceFile": "/in/a.png", "FileType": "PNG", "ImageWidth": 4}
	m := toMetadataRecordMap(rec, testConfig(), fixedTime)

	if m["record_kind"] != RecordKindMetadata {
		t.Errorf("record_kind = %v", m["record_kind"])
	}
	if m["file_name"] != "a.png" {
		t.Errorf("file_name = %v, want a.png (derived from SourceFile)", m["file_name"])
	}
	if m["stored_at"] != "2026-10-19T12:30:00Z" {
		t.Errorf("stored_at = %v", m["stored_at"])
	}

	// tags is a copy; mutating it leaves the caller's record alone.
	tags := m["tags"].(map[string]any)
	tags["ImageWidth"] = 8
	if rec["ImageWidth"] != 4 {
		t.Error("tags aliases the source record")
	}
}

func TestToMetricsRecordMap(t *testing.T) {
	m := toMetricsRecordMap(testSnapshot(), testConfig(), fixedTime)

	if m["record_kind"] != RecordKindMetrics {
		t.Errorf("record_kind = %v", m["record_kind"])
	}
	if m["file_type"] != metricsFileType {
		t.Errorf("file_type = %v, want %q", m["file_type"], metricsFileType)
	}
	if m["requests_sent"] != int64(2) {
		t.Errorf("requests_sent = %v", m["requests_sent"])
	}
	byKind := m["tool_errors_by_kind"].(map[string]any)
	if byKind["not_found"] != int64(1) {
		t.Errorf("tool_errors_by_kind = %v", byKind)
	}
}
