// Package lode persists extracted metadata records to a Lode dataset.
//
// Records are Hive-partitioned by source, day and file type and encoded as
// JSONL, on the local filesystem or S3.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "exifpipe"

// partitionKeys is the Hive layout shared by the read and write paths.
var partitionKeys = []string{"source", "day", "file_type"}

// DeriveDay computes the partition day for a batch start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds record store configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the partition key naming where the files came from.
	Source string
	// Day is the partition key derived from the batch start time.
	Day string
	// SessionID identifies the exiftool session that produced the records.
	SessionID string
}

// Client abstracts the record store.
type Client interface {
	// WriteRecords writes every record of md as one batch.
	// Ordering within the batch is preserved.
	WriteRecords(ctx context.Context, md types.Metadata) error

	// WriteMetrics writes a counters snapshot for the batch.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// StubClient accepts writes without persisting them.
type StubClient struct {
	mu      sync.Mutex
	Records []types.Metadata
	Metrics []metrics.Snapshot
	Closed  bool
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteRecords implements Client.
func (c *StubClient) WriteRecords(_ context.Context, md types.Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Records = append(c.Records, md)
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metrics = append(c.Metrics, snap)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// RecordCount returns the number of records written across all batches.
func (c *StubClient) RecordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, md := range c.Records {
		n += len(md)
	}
	return n
}

var _ Client = (*StubClient)(nil)
