package lode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// LodeClient is a Lode-backed implementation of Client.
// Uses Lode's HiveLayout with partition keys source/day/file_type.
type LodeClient struct {
	dataset lode.Dataset
	config  Config
	now     func() time.Time

	// storeFactory backs sidecar file writes, which bypass the dataset.
	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a new Lode client with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a new Lode client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		now:          time.Now,
		storeFactory: factory,
	}
}

// Config returns the client's partition configuration.
func (c *LodeClient) Config() Config {
	return c.config
}

// WriteRecords writes one metadata record per file in md as a single
// snapshot. An empty md is a no-op.
func (c *LodeClient) WriteRecords(ctx context.Context, md types.Metadata) error {
	if len(md) == 0 {
		return nil
	}

	storedAt := c.now()
	records := make([]any, 0, len(md))
	for _, r := range md {
		records = append(records, toMetadataRecordMap(r, c.config, storedAt))
	}

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath())
	}
	return nil
}

// WriteMetrics writes a counters snapshot to the _metrics partition.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, c.config, completedAt)
	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath())
	}
	return nil
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

// partitionPath is the batch-level partition prefix used in error reports.
func (c *LodeClient) partitionPath() string {
	return fmt.Sprintf("%s/source=%s/day=%s", c.config.Dataset, c.config.Source, c.config.Day)
}

var _ Client = (*LodeClient)(nil)
