package policy

import (
	"context"
	"sync"

	"github.com/pithecene-io/exifpipe/types"
)

// Sink abstracts record persistence for policies.
// *lode.LodeClient and *lode.InstrumentedClient satisfy it.
type Sink interface {
	// WriteRecords persists a batch of records in order.
	WriteRecords(ctx context.Context, md types.Metadata) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink is a test sink that keeps written batches in memory.
type StubSink struct {
	mu sync.Mutex

	// Batches holds every successful WriteRecords call, in order.
	Batches []types.Metadata
	// Closed indicates whether Close was called.
	Closed bool

	// ErrorOnWrite, if non-nil, is returned by WriteRecords.
	ErrorOnWrite error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteRecords records the batch without persisting.
func (s *StubSink) WriteRecords(_ context.Context, md types.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Batches = append(s.Batches, md)
	return nil
}

// SetError changes ErrorOnWrite under the sink's lock.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	return nil
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StubSinkStats{Batches: int64(len(s.Batches)), Closed: s.Closed}
	for _, b := range s.Batches {
		stats.RecordsWritten += int64(len(b))
	}
	return stats
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	RecordsWritten int64
	Batches        int64
	Closed         bool
}
