package lode

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// RecordFilter narrows QueryRecords. Empty fields match everything.
type RecordFilter struct {
	Source    string
	Day       string
	FileType  string
	SessionID string
}

func (f RecordFilter) matchesSnapshot(snap *lode.DatasetSnapshot) bool {
	return snapshotMatchesFilter(snap, "source", f.Source) &&
		snapshotMatchesFilter(snap, "day", f.Day) &&
		snapshotMatchesFilter(snap, "file_type", f.FileType)
}

// matchesRecord applies the filter to record fields, which are
// authoritative over manifest paths for multi-partition snapshots.
func (f RecordFilter) matchesRecord(record map[string]any) bool {
	return matchField(record, "source", f.Source) &&
		matchField(record, "day", f.Day) &&
		matchField(record, "file_type", f.FileType) &&
		matchField(record, "session_id", f.SessionID)
}

// QueryRecords reads every stored metadata record matching filter, oldest
// snapshot first.
func QueryRecords(ctx context.Context, ds lode.Dataset, filter RecordFilter) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	var out []map[string]any
	for _, snap := range snapshots {
		if !filter.matchesSnapshot(snap) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetadata {
				continue
			}
			if filter.matchesRecord(record) {
				out = append(out, record)
			}
		}
	}
	return out, nil
}

// QueryLatestMetrics finds and reads the most recent metrics record.
// Filters by sessionID and source if non-empty.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, sessionID, source string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "file_type", metricsFileType) ||
			!snapshotMatchesFilter(snap, "source", source) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if matchField(record, "session_id", sessionID) && matchField(record, "source", source) {
				return record, nil
			}
		}
	}

	return nil, ErrNoMetricsFound
}

func matchField(record map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	s, _ := record[key].(string)
	return s == want
}
