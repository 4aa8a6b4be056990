package policy

import (
	"context"

	"github.com/pithecene-io/exifpipe/types"
)

// StrictPolicy writes each input's records as soon as they are ingested.
// Callers block on sink latency; a failed write is returned to the caller.
type StrictPolicy struct {
	sink  Sink
	stats statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// Ingest writes md immediately. Empty metadata writes nothing.
func (p *StrictPolicy) Ingest(ctx context.Context, md types.Metadata) error {
	if len(md) == 0 {
		return nil
	}
	p.stats.addTotal(int64(len(md)))

	if err := p.sink.WriteRecords(ctx, md); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.addPersisted(int64(len(md)))
	return nil
}

// Flush is a no-op for strict policy (nothing is buffered).
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
