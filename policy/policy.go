// Package policy decides when extracted records reach the record store.
//
// A Policy receives the records of each input as it settles and writes
// them to a Sink. Records are never dropped: a write that cannot be made
// is returned as an error and the extract command reports a persistence
// failure.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/types"
)

// Policy controls buffering and persistence of extracted records.
type Policy interface {
	// Ingest accepts the records of one settled input.
	// Safe for concurrent use.
	Ingest(ctx context.Context, md types.Metadata) error

	// Flush writes any buffered records.
	Flush(ctx context.Context) error

	// Close flushes what it can and closes the sink.
	Close() error

	// Stats returns a consistent snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy counters.
type Stats struct {
	// TotalRecords is the number of records received.
	TotalRecords int64
	// RecordsPersisted is the number of records written to the sink.
	RecordsPersisted int64
	// BufferSize is the estimated size in bytes of buffered records.
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the number of failed writes or rejected ingests.
	Errors int64
}

// Name identifies a policy on the command line and in config files.
type Name string

const (
	NameStrict    Name = "strict"
	NameBuffered  Name = "buffered"
	NameStreaming Name = "streaming"
	NameNoop      Name = "noop"
)

// Config selects and configures a policy for New.
type Config struct {
	Name Name

	// Buffered limits.
	MaxBufferRecords int
	MaxBufferBytes   int64

	// Streaming triggers.
	FlushCount    int
	FlushInterval time.Duration

	Logger *log.Logger
}

// New builds the policy named by cfg.Name writing to sink.
func New(sink Sink, cfg Config) (Policy, error) {
	switch cfg.Name {
	case NameStrict:
		return NewStrictPolicy(sink), nil
	case NameBuffered:
		return NewBufferedPolicy(sink, BufferedConfig{
			MaxBufferRecords: cfg.MaxBufferRecords,
			MaxBufferBytes:   cfg.MaxBufferBytes,
			Logger:           cfg.Logger,
		})
	case NameStreaming:
		return NewStreamingPolicy(sink, StreamingConfig{
			FlushCount:    cfg.FlushCount,
			FlushInterval: cfg.FlushInterval,
			Logger:        cfg.Logger,
		})
	case NameNoop:
		return NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy: %q (must be strict, buffered or streaming)", cfg.Name)
	}
}

// estimateRecordSize returns a rough size in bytes for buffer accounting.
func estimateRecordSize(rec types.Record) int64 {
	size := int64(64)
	for k, v := range rec {
		size += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			size += int64(len(s))
		} else {
			size += 16
		}
	}
	return size
}

func estimateSize(md types.Metadata) int64 {
	var total int64
	for _, rec := range md {
		total += estimateRecordSize(rec)
	}
	return total
}

// statsRecorder is a thread-safe Stats holder.
//
// Lock discipline:
//   - StrictPolicy and NoopPolicy use the locking methods
//   - BufferedPolicy and StreamingPolicy use the Locked methods while
//     holding their own mu, so buffer state and counters move together
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) addTotal(n int64) {
	r.mu.Lock()
	r.stats.TotalRecords += n
	r.mu.Unlock()
}

func (r *statsRecorder) addPersisted(n int64) {
	r.mu.Lock()
	r.stats.RecordsPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// --- Locked methods ---
// Caller must hold the owning policy's mu.

func (r *statsRecorder) addTotalLocked(n int64) {
	r.stats.TotalRecords += n
}

func (r *statsRecorder) addPersistedLocked(n int64) {
	r.stats.RecordsPersisted += n
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	return s
}
