package policy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/types"
)

// StreamingConfig configures a StreamingPolicy.
type StreamingConfig struct {
	// FlushCount triggers a flush once N records accumulate.
	// Zero means count-based flush is disabled.
	FlushCount int

	// FlushInterval triggers a flush every interval.
	// Zero means interval-based flush is disabled.
	FlushInterval time.Duration

	// Logger is an optional logger.
	Logger *log.Logger
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	// FlushTriggerCount indicates a count-threshold flush.
	FlushTriggerCount FlushTrigger = "count"
	// FlushTriggerInterval indicates an interval-based flush.
	FlushTriggerInterval FlushTrigger = "interval"
	// FlushTriggerTermination indicates the end-of-batch flush.
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrStreamingInvalidConfig is returned when StreamingConfig is invalid.
var ErrStreamingInvalidConfig = errors.New("invalid streaming config: at least one of FlushCount or FlushInterval must be set")

// StreamingPolicy writes records in batches while extraction runs.
//
// Records accumulate in memory and are written when a StreamingConfig
// trigger fires or Flush is called. Nothing is dropped. A failed write puts the batch back in front of
// newer records and is retried on the next trigger.
//
// Thread safety:
//   - mu guards buffer state and stats
//   - flushMu serializes flushes from the interval goroutine and ingest
//   - triggerFlush holds mu only to swap or restore the buffer, so
//     ingestion continues during a write
type StreamingPolicy struct {
	sink   Sink
	config StreamingConfig
	logger *log.Logger

	mu          sync.Mutex
	buffer      types.Metadata
	bufferBytes int64
	stats       statsRecorder

	flushMu sync.Mutex

	// Per-trigger flush counts. Guarded by mu.
	flushByCount       int64
	flushByInterval    int64
	flushByTermination int64

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool // guarded by mu
}

// NewStreamingPolicy creates a new streaming policy. With a FlushInterval
// it starts a goroutine that Close stops.
func NewStreamingPolicy(sink Sink, config StreamingConfig) (*StreamingPolicy, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrStreamingInvalidConfig
	}

	p := &StreamingPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make(types.Metadata, 0, 128),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if config.FlushInterval > 0 {
		go p.intervalLoop()
	} else {
		close(p.doneCh)
	}
	return p, nil
}

// Ingest buffers md and flushes when the count threshold is reached.
func (p *StreamingPolicy) Ingest(ctx context.Context, md types.Metadata) error {
	if len(md) == 0 {
		return nil
	}
	p.mu.Lock()
	p.stats.addTotalLocked(int64(len(md)))
	p.buffer = append(p.buffer, md...)
	p.bufferBytes += estimateSize(md)
	shouldFlush := p.config.FlushCount > 0 && len(p.buffer) >= p.config.FlushCount
	p.mu.Unlock()

	if shouldFlush {
		return p.triggerFlush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes all buffered records.
func (p *StreamingPolicy) Flush(ctx context.Context) error {
	return p.triggerFlush(ctx, FlushTriggerTermination)
}

// triggerFlush swaps the buffer under mu, writes outside it, and restores
// the batch ahead of newer records on failure.
func (p *StreamingPolicy) triggerFlush(ctx context.Context, trigger FlushTrigger) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	switch trigger {
	case FlushTriggerCount:
		p.flushByCount++
	case FlushTriggerInterval:
		p.flushByInterval++
	case FlushTriggerTermination:
		p.flushByTermination++
	}
	p.stats.incFlushLocked()

	records := p.buffer
	if len(records) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.buffer = make(types.Metadata, 0, 128)
	p.bufferBytes = 0
	p.mu.Unlock()

	if err := p.sink.WriteRecords(ctx, records); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.buffer = append(records, p.buffer...)
		p.bufferBytes = estimateSize(p.buffer)
		p.mu.Unlock()
		p.logFlushFailure(trigger, len(records), err)
		return err
	}

	p.mu.Lock()
	p.stats.addPersistedLocked(int64(len(records)))
	p.mu.Unlock()
	p.logFlush(trigger, len(records))
	return nil
}

// Close stops the interval goroutine, flushes and closes the sink.
func (p *StreamingPolicy) Close() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	<-p.doneCh

	flushErr := p.Flush(context.Background())
	return errors.Join(flushErr, p.sink.Close())
}

// Stats returns an atomic snapshot of policy statistics.
func (p *StreamingPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.snapshotLocked(p.bufferBytes)
}

// FlushTriggerStats returns per-trigger flush counts.
func (p *StreamingPolicy) FlushTriggerStats() map[FlushTrigger]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[FlushTrigger]int64{
		FlushTriggerCount:       p.flushByCount,
		FlushTriggerInterval:    p.flushByInterval,
		FlushTriggerTermination: p.flushByTermination,
	}
}

func (p *StreamingPolicy) intervalLoop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			hasData := len(p.buffer) > 0
			p.mu.Unlock()

			if hasData {
				// Interval flush errors are logged; the next trigger retries.
				_ = p.triggerFlush(context.Background(), FlushTriggerInterval)
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *StreamingPolicy) logFlush(trigger FlushTrigger, records int) {
	if p.logger == nil {
		return
	}
	p.logger.Debug("streaming flush", map[string]any{
		"trigger": string(trigger),
		"records": records,
		"policy":  string(NameStreaming),
	})
}

func (p *StreamingPolicy) logFlushFailure(trigger FlushTrigger, records int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("streaming flush failed", map[string]any{
		"trigger": string(trigger),
		"records": records,
		"error":   err.Error(),
		"policy":  string(NameStreaming),
	})
}

var _ Policy = (*StreamingPolicy)(nil)
