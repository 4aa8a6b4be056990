package reader

import (
	"context"
	"fmt"

	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/exifpipe/lode"
)

// Reader abstracts read-only access to persisted extract output.
type Reader interface {
	// Records lists stored metadata records matching filter, oldest first.
	Records(ctx context.Context, filter lode.RecordFilter) ([]StoredRecord, error)

	// LatestMetrics returns the newest counters snapshot, optionally
	// narrowed to one session or source. It returns lode.ErrNoMetricsFound
	// when nothing matches.
	LatestMetrics(ctx context.Context, sessionID, source string) (*MetricsSnapshot, error)
}

// LodeReader reads a Lode dataset written by extract.
type LodeReader struct {
	ds lodelibrary.Dataset
}

// NewLodeReader creates a reader over ds.
func NewLodeReader(ds lodelibrary.Dataset) *LodeReader {
	return &LodeReader{ds: ds}
}

// Records implements Reader.
func (r *LodeReader) Records(ctx context.Context, filter lode.RecordFilter) ([]StoredRecord, error) {
	raw, err := lode.QueryRecords(ctx, r.ds, filter)
	if err != nil {
		return nil, err
	}
	records := make([]StoredRecord, 0, len(raw))
	for _, rec := range raw {
		records = append(records, ParseRecord(rec))
	}
	return records, nil
}

// LatestMetrics implements Reader.
func (r *LodeReader) LatestMetrics(ctx context.Context, sessionID, source string) (*MetricsSnapshot, error) {
	raw, err := lode.QueryLatestMetrics(ctx, r.ds, sessionID, source)
	if err != nil {
		return nil, err
	}
	snap, err := ParseMetricsRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed metrics record: %w", err)
	}
	return snap, nil
}

var _ Reader = (*LodeReader)(nil)
