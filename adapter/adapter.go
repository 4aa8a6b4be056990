// Package adapter defines the notification boundary for finished batches.
//
// Adapters publish a batch-completed event to a downstream system once an
// extract invocation has settled every file and persisted its records.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/exifpipe/types"
)

// EventTypeBatchCompleted is the only event type adapters publish.
const EventTypeBatchCompleted = "batch_completed"

// DefaultBackoff is the delay before the first retry; it doubles per attempt.
const DefaultBackoff = 500 * time.Millisecond

// BatchCompletedEvent is the payload published when an extract batch ends.
type BatchCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "batch_completed"
	SessionID       string `json:"session_id"`
	Source          string `json:"source"`
	Day             string `json:"day"`
	Mode            string `json:"mode"`
	FilesTotal      int    `json:"files_total"`
	FilesOK         int    `json:"files_ok"`
	FilesFailed     int    `json:"files_failed"`
	StoragePath     string `json:"storage_path,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	DurationMs      int64  `json:"duration_ms"`
}

// Batch summarizes a finished batch for NewBatchCompletedEvent.
type Batch struct {
	SessionID   string
	Source      string
	Day         string
	Mode        string
	FilesOK     int
	FilesFailed int
	StoragePath string
	Started     time.Time
	Finished    time.Time
}

// NewBatchCompletedEvent builds the published payload for b.
func NewBatchCompletedEvent(b Batch) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeBatchCompleted,
		SessionID:       b.SessionID,
		Source:          b.Source,
		Day:             b.Day,
		Mode:            b.Mode,
		FilesTotal:      b.FilesOK + b.FilesFailed,
		FilesOK:         b.FilesOK,
		FilesFailed:     b.FilesFailed,
		StoragePath:     b.StoragePath,
		Timestamp:       b.Finished.UTC().Format(time.RFC3339),
		DurationMs:      b.Finished.Sub(b.Started).Milliseconds(),
	}
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends a batch completion event.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *BatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Retry calls op up to 1+retries times, sleeping base, 2*base, 4*base...
// between attempts. It stops early when op succeeds, when permanent
// reports the error as non-retriable, or when ctx is done. name prefixes
// returned errors.
func Retry(ctx context.Context, name string, retries int, base time.Duration, permanent func(error) bool, op func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := base << uint(i-1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
