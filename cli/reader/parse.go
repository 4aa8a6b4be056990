package reader

import (
	"errors"

	"github.com/pithecene-io/exifpipe/metrics"
)

// ParseRecord converts a stored metadata record to its listing view.
func ParseRecord(record map[string]any) StoredRecord {
	tags, _ := record["tags"].(map[string]any)
	return StoredRecord{
		SourceFile: toString(record["source_file"]),
		FileType:   toString(record["file_type"]),
		Source:     toString(record["source"]),
		Day:        toString(record["day"]),
		SessionID:  toString(record["session_id"]),
		StoredAt:   toString(record["stored_at"]),
		Tags:       tags,
	}
}

// ParseMetricsRecord converts a Lode metrics record to a MetricsSnapshot.
// Numbers may arrive as int64 (direct writes) or float64 (JSON round
// trips). Missing counters read as zero.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		CompletedAt: toString(record["completed_at"]),
		Snapshot: metrics.Snapshot{
			SessionsStarted: toInt64(record["sessions_started"]),
			LaunchSuccess:   toInt64(record["launch_success"]),
			LaunchFailure:   toInt64(record["launch_failure"]),

			RequestsSent:     toInt64(record["requests_sent"]),
			FramesDecoded:    toInt64(record["frames_decoded"]),
			ToolErrors:       toInt64(record["tool_errors"]),
			FrameParseErrors: toInt64(record["frame_parse_errors"]),
			ProcessIOErrors:  toInt64(record["process_io_errors"]),
			UnclaimedEvents:  toInt64(record["unclaimed_events"]),

			FilesStaged:     toInt64(record["files_staged"]),
			StagedBytes:     toInt64(record["staged_bytes"]),
			CleanupFailures: toInt64(record["cleanup_failures"]),

			CacheHits:         toInt64(record["cache_hits"]),
			CacheMisses:       toInt64(record["cache_misses"]),
			StoreWriteSuccess: toInt64(record["store_write_success"]),
			StoreWriteFailure: toInt64(record["store_write_failure"]),

			Mode:             toString(record["mode"]),
			StorageBackend:   toString(record["storage_backend"]),
			SessionID:        toString(record["session_id"]),
			ToolErrorsByKind: parseCounts(record["tool_errors_by_kind"]),
		},
	}

	// The write path always populates these.
	if snap.CompletedAt == "" {
		return nil, errors.New("metrics record missing required field: completed_at")
	}
	if snap.SessionID == "" {
		return nil, errors.New("metrics record missing required field: session_id")
	}
	if snap.Mode == "" {
		return nil, errors.New("metrics record missing required field: mode")
	}
	if snap.StorageBackend == "" {
		return nil, errors.New("metrics record missing required field: storage_backend")
	}
	return snap, nil
}

// toInt64 converts a counter, handling float64 from JSON and integer
// types from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case interface{ Int64() (int64, error) }:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts converts a per-kind counter map from either write format.
func parseCounts(v any) map[string]int64 {
	out := make(map[string]int64)
	switch m := v.(type) {
	case map[string]int64:
		for k, n := range m {
			out[k] = n
		}
	case map[string]any:
		for k, n := range m {
			out[k] = toInt64(n)
		}
	}
	return out
}
