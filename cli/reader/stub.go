package reader

import (
	"context"

	"github.com/pithecene-io/exifpipe/lode"
)

// StubReader serves fixed records and snapshots from memory.
type StubReader struct {
	Stored  []StoredRecord
	Metrics []MetricsSnapshot // oldest first
}

// NewStubReader creates an empty stub reader.
func NewStubReader() *StubReader {
	return &StubReader{}
}

// Records implements Reader.
func (r *StubReader) Records(_ context.Context, filter lode.RecordFilter) ([]StoredRecord, error) {
	out := make([]StoredRecord, 0, len(r.Stored))
	for _, rec := range r.Stored {
		if match(rec.Source, filter.Source) && match(rec.Day, filter.Day) &&
			match(rec.FileType, filter.FileType) && match(rec.SessionID, filter.SessionID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LatestMetrics implements Reader. StubReader keeps no source per
// snapshot, so source is ignored.
func (r *StubReader) LatestMetrics(_ context.Context, sessionID, _ string) (*MetricsSnapshot, error) {
	for i := len(r.Metrics) - 1; i >= 0; i-- {
		if match(r.Metrics[i].SessionID, sessionID) {
			snap := r.Metrics[i]
			return &snap, nil
		}
	}
	return nil, lode.ErrNoMetricsFound
}

func match(got, want string) bool {
	return want == "" || got == want
}

var _ Reader = (*StubReader)(nil)
