package lode

import (
	"strings"
	"time"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// Record kinds stored in the dataset.
const (
	RecordKindMetadata = "metadata"
	RecordKindMetrics  = "metrics"
)

const (
	// unknownFileType partitions records exiftool did not type.
	unknownFileType = "unknown"
	// metricsFileType partitions metrics snapshots away from metadata.
	metricsFileType = "_metrics"
)

var partitionValueReplacer = strings.NewReplacer("/", "_", "=", "_", " ", "_")

// partitionFileType returns a path-safe file_type partition value.
func partitionFileType(r types.Record) string {
	ft := r.FileType()
	if ft == "" {
		return unknownFileType
	}
	return partitionValueReplacer.Replace(ft)
}

// toMetadataRecordMap converts one exiftool record into the stored shape.
// The exiftool record is kept whole under "tags".
func toMetadataRecordMap(r types.Record, cfg Config, storedAt time.Time) map[string]any {
	tags := make(map[string]any, len(r))
	for k, v := range r {
		tags[k] = v
	}
	return map[string]any{
		"record_kind":      RecordKindMetadata,
		"contract_version": types.ContractVersion,
		"source":           cfg.Source,
		"day":              cfg.Day,
		"file_type":        partitionFileType(r),
		"session_id":       cfg.SessionID,
		"source_file":      r.SourceFile(),
		"file_name":        r.FileName(),
		"stored_at":        storedAt.UTC().Format(time.RFC3339Nano),
		"tags":             tags,
	}
}

// toMetricsRecordMap converts a counters snapshot into the stored shape.
func toMetricsRecordMap(snap metrics.Snapshot, cfg Config, completedAt time.Time) map[string]any {
	byKind := make(map[string]any, len(snap.ToolErrorsByKind))
	for k, v := range snap.ToolErrorsByKind {
		byKind[k] = v
	}
	return map[string]any{
		"record_kind":      RecordKindMetrics,
		"contract_version": types.ContractVersion,
		"source":           cfg.Source,
		"day":              cfg.Day,
		"file_type":        metricsFileType,
		"session_id":       cfg.SessionID,
		"completed_at":     completedAt.UTC().Format(time.RFC3339Nano),

		"mode":            snap.Mode,
		"storage_backend": snap.StorageBackend,

		"sessions_started":    snap.SessionsStarted,
		"launch_success":      snap.LaunchSuccess,
		"launch_failure":      snap.LaunchFailure,
		"requests_sent":       snap.RequestsSent,
		"frames_decoded":      snap.FramesDecoded,
		"tool_errors":         snap.ToolErrors,
		"tool_errors_by_kind": byKind,
		"frame_parse_errors":  snap.FrameParseErrors,
		"process_io_errors":   snap.ProcessIOErrors,
		"unclaimed_events":    snap.UnclaimedEvents,
		"files_staged":        snap.FilesStaged,
		"staged_bytes":        snap.StagedBytes,
		"cleanup_failures":    snap.CleanupFailures,
		"cache_hits":          snap.CacheHits,
		"cache_misses":        snap.CacheMisses,
		"store_write_success": snap.StoreWriteSuccess,
		"store_write_failure": snap.StoreWriteFailure,
	}
}
