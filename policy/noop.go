package policy

import (
	"context"

	"github.com/pithecene-io/exifpipe/types"
)

// NoopPolicy counts records and persists none. Extract uses it when no
// record store is configured.
type NoopPolicy struct {
	stats statsRecorder
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// Ingest counts md.
func (p *NoopPolicy) Ingest(_ context.Context, md types.Metadata) error {
	p.stats.addTotal(int64(len(md)))
	return nil
}

// Flush counts the flush.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close does nothing.
func (p *NoopPolicy) Close() error {
	return nil
}

// Stats returns policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
