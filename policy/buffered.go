package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords is the maximum number of records to buffer.
	// Zero means no limit (use MaxBufferBytes instead).
	MaxBufferRecords int

	// MaxBufferBytes is the maximum buffer size in bytes (estimated).
	// Zero means no limit (use MaxBufferRecords instead).
	// At least one limit must be set.
	MaxBufferBytes int64

	// Logger is an optional logger. If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferRecords: 10000,
		MaxBufferBytes:   64 * 1024 * 1024, // 64 MB
	}
}

// ErrBufferFull is returned when an input's records do not fit the buffer.
var ErrBufferFull = errors.New("buffer full: cannot accept records")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferRecords or MaxBufferBytes must be set")

// BufferedPolicy holds every record in a bounded buffer and writes them
// in one batch on Flush. A full buffer rejects the ingest; it never drops
// buffered records. A failed flush keeps the buffer for a retry, so a
// retried flush may write duplicates but never loses records.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	flushMu     sync.Mutex // serializes flushes
	mu          sync.Mutex // guards buffer state and stats
	buffer      types.Metadata
	bufferBytes int64
	stats       statsRecorder
}

// NewBufferedPolicy creates a new buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferRecords <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make(types.Metadata, 0, min(max(config.MaxBufferRecords, 100), 10000)),
	}, nil
}

// Ingest buffers md as a unit: either every record fits or the ingest
// fails with ErrBufferFull and nothing is buffered.
func (p *BufferedPolicy) Ingest(_ context.Context, md types.Metadata) error {
	if len(md) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.addTotalLocked(int64(len(md)))
	size := estimateSize(md)

	if !p.hasRoom(len(md), size) {
		p.stats.incErrorsLocked()
		p.logBufferOverflow(len(md), size)
		return fmt.Errorf("%w: %d records (%d bytes) with %d buffered", ErrBufferFull, len(md), size, len(p.buffer))
	}

	p.buffer = append(p.buffer, md...)
	p.bufferBytes += size
	return nil
}

// Flush writes every buffered record in one batch. The buffer is cleared
// only after the write succeeds.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.incFlushLocked()
	records := p.buffer
	p.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	if err := p.sink.WriteRecords(ctx, records); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.mu.Unlock()
		p.logFlushFailure(len(records), err)
		return err
	}

	p.mu.Lock()
	p.stats.addPersistedLocked(int64(len(records)))
	// Records ingested during the write stay buffered.
	p.buffer = append(types.Metadata(nil), p.buffer[len(records):]...)
	p.bufferBytes = estimateSize(p.buffer)
	p.mu.Unlock()
	return nil
}

// Close flushes remaining records and closes the sink.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	return errors.Join(flushErr, p.sink.Close())
}

// Stats returns an atomic snapshot of policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.snapshotLocked(p.bufferBytes)
}

// hasRoom checks both limits. Caller must hold mu.
func (p *BufferedPolicy) hasRoom(records int, size int64) bool {
	if p.config.MaxBufferRecords > 0 && len(p.buffer)+records > p.config.MaxBufferRecords {
		return false
	}
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+size > p.config.MaxBufferBytes {
		return false
	}
	return true
}

func (p *BufferedPolicy) logBufferOverflow(records int, size int64) {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"records":        records,
		"bytes":          size,
		"buffered":       len(p.buffer),
		"buffered_bytes": p.bufferBytes,
		"policy":         string(NameBuffered),
	})
}

func (p *BufferedPolicy) logFlushFailure(records int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"records": records,
		"error":   err.Error(),
		"policy":  string(NameBuffered),
	})
}

var _ Policy = (*BufferedPolicy)(nil)
