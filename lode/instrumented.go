package lode

import (
	"context"
	"time"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// InstrumentedClient wraps a Client and counts store write outcomes.
// Each WriteRecords/WriteMetrics call increments store_write_success or
// store_write_failure on the collector.
type InstrumentedClient struct {
	inner     Client
	collector *metrics.Collector
}

// NewInstrumentedClient wraps a client with metrics instrumentation.
func NewInstrumentedClient(inner Client, collector *metrics.Collector) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, collector: collector}
}

// WriteRecords delegates to the inner client and records success or failure.
func (c *InstrumentedClient) WriteRecords(ctx context.Context, md types.Metadata) error {
	return c.record(c.inner.WriteRecords(ctx, md))
}

// WriteMetrics delegates to the inner client and records success or failure.
func (c *InstrumentedClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	return c.record(c.inner.WriteMetrics(ctx, snap, completedAt))
}

// Close delegates to the inner client.
func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

func (c *InstrumentedClient) record(err error) error {
	if err != nil {
		c.collector.IncStoreWriteFailure()
	} else {
		c.collector.IncStoreWriteSuccess()
	}
	return err
}

var _ Client = (*InstrumentedClient)(nil)
