// Package reader is the read side of the exifpipe CLI.
//
// It turns records persisted by extract into the views the records and
// stats commands render. Commands read through the Reader interface so the
// storage backend can be swapped for an in-memory one.
package reader

import (
	"github.com/pithecene-io/exifpipe/metrics"
)

// StoredRecord is the listing view of one persisted metadata record.
type StoredRecord struct {
	SourceFile string         `json:"source_file"`
	FileType   string         `json:"file_type"`
	Source     string         `json:"source"`
	Day        string         `json:"day"`
	SessionID  string         `json:"session_id"`
	StoredAt   string         `json:"stored_at"`
	Tags       map[string]any `json:"tags"`
}

// MetricsSnapshot is a persisted counters snapshot and the time its batch
// completed.
type MetricsSnapshot struct {
	metrics.Snapshot
	CompletedAt string `json:"completed_at"`
}
