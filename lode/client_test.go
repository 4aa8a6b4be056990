package lode

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/types"
)

// toInt64 normalizes JSON-decoded numbers.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// sharedFactory returns a StoreFactory that always returns the given store,
// so write and read datasets share the same in-memory state.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testConfig() Config {
	return Config{
		Dataset:   "exifpipe",
		Source:    "camera-roll",
		Day:       "2026-10-19",
		SessionID: "sess-1",
	}
}

func testMetadata() types.Metadata {
	return types.Metadata{
		{"SourceFile": "/photos/a.png", "FileName": "a.png", "FileType": "PNG", "ImageWidth": float64(4)},
		{"SourceFile": "/photos/b.jpg", "FileName": "b.jpg", "FileType": "JPEG"},
	}
}

func TestLodeClient_WriteRecords_RoundTrip(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	cfg := testConfig()

	client, err := NewLodeClientWithFactory(cfg, factory)
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.WriteRecords(t.Context(), testMetadata()); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	records, err := QueryRecords(t.Context(), ds, RecordFilter{})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	byFile := make(map[string]map[string]any)
	for _, r := range records {
		byFile[toString(r["file_name"])] = r
	}
	png, ok := byFile["a.png"]
	if !ok {
		t.Fatalf("missing a.png record, got %v", records)
	}
	checks := map[string]string{
		"record_kind":      RecordKindMetadata,
		"contract_version": types.ContractVersion,
		"source":           "camera-roll",
		"day":              "2026-10-19",
		"file_type":        "PNG",
		"session_id":       "sess-1",
		"source_file":      "/photos/a.png",
	}
	for k, want := range checks {
		if got := toString(png[k]); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	tags, ok := png["tags"].(map[string]any)
	if !ok {
		t.Fatalf("tags type = %T, want map[string]any", png["tags"])
	}
	if toInt64(tags["ImageWidth"]) != 4 {
		t.Errorf("tags.ImageWidth = %v, want 4", tags["ImageWidth"])
	}
}

func TestLodeClient_WriteRecords_PartitionedByFileType(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	cfg := testConfig()

	client, err := NewLodeClientWithFactory(cfg, factory)
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	if err := client.WriteRecords(t.Context(), testMetadata()); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}

	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	latest, err := ds.Latest(t.Context())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	for _, want := range []string{"PNG", "JPEG"} {
		if !snapshotMatchesFilter(latest, "file_type", want) {
			t.Errorf("no manifest file under file_type=%s", want)
		}
	}

	records, err := QueryRecords(t.Context(), ds, RecordFilter{FileType: "JPEG"})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(records) != 1 || toString(records[0]["file_name"]) != "b.jpg" {
		t.Errorf("FileType filter returned %v, want only b.jpg", records)
	}
}

func TestLodeClient_WriteRecords_Empty(t *testing.T) {
	store := &FailingStore{}
	client, err := NewLodeClientWithFactory(testConfig(), FailingStoreFactory(store))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	if err := client.WriteRecords(t.Context(), nil); err != nil {
		t.Fatalf("WriteRecords(nil) = %v, want nil", err)
	}
	if store.PutCalls != 0 {
		t.Errorf("PutCalls = %d, want 0 for empty batch", store.PutCalls)
	}
}

func TestLodeClient_DefaultDataset(t *testing.T) {
	cfg := testConfig()
	cfg.Dataset = ""
	client, err := NewLodeClientWithFactory(cfg, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}
	if got := client.Config().Dataset; got != DefaultDataset {
		t.Errorf("Dataset = %q, want %q", got, DefaultDataset)
	}
}

func TestLodeClient_WriteMetrics_QueryLatest(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	cfg := testConfig()

	client, err := NewLodeClientWithFactory(cfg, factory)
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}

	snap := metrics.Snapshot{
		SessionsStarted:  1,
		RequestsSent:     3,
		FramesDecoded:    2,
		ToolErrors:       1,
		ToolErrorsByKind: map[string]int64{"not_found": 1},
		FilesStaged:      1,
		StagedBytes:      2048,
		Mode:             "session",
		StorageBackend:   "fs",
		SessionID:        "sess-1",
	}
	completedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := client.WriteMetrics(t.Context(), snap, completedAt); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}

	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	record, err := QueryLatestMetrics(t.Context(), ds, "sess-1", "camera-roll")
	if err != nil {
		t.Fatalf("QueryLatestMetrics failed: %v", err)
	}

	if v := toInt64(record["requests_sent"]); v != 3 {
		t.Errorf("requests_sent = %d, want 3", v)
	}
	if v := toInt64(record["staged_bytes"]); v != 2048 {
		t.Errorf("staged_bytes = %d, want 2048", v)
	}
	if v := toString(record["mode"]); v != "session" {
		t.Errorf("mode = %q, want session", v)
	}
	if v := toString(record["completed_at"]); v != "2026-10-19T12:00:00Z" {
		t.Errorf("completed_at = %q", v)
	}
	byKind, _ := record["tool_errors_by_kind"].(map[string]any)
	if toInt64(byKind["not_found"]) != 1 {
		t.Errorf("tool_errors_by_kind = %v, want not_found=1", record["tool_errors_by_kind"])
	}

	// Metrics never show up as metadata records.
	records, err := QueryRecords(t.Context(), ds, RecordFilter{})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("QueryRecords returned %d metrics rows", len(records))
	}
}

func TestQueryLatestMetrics_Filters(t *testing.T) {
	factory := sharedFactory(lode.NewMemory())
	ctx := t.Context()

	for _, id := range []string{"sess-1", "sess-2"} {
		cfg := testConfig()
		cfg.SessionID = id
		client, err := NewLodeClientWithFactory(cfg, factory)
		if err != nil {
			t.Fatalf("NewLodeClientWithFactory failed: %v", err)
		}
		snap := metrics.Snapshot{SessionID: id, RequestsSent: int64(len(id))}
		if err := client.WriteMetrics(ctx, snap, time.Now()); err != nil {
			t.Fatalf("WriteMetrics failed: %v", err)
		}
	}

	ds, err := NewReadDataset("exifpipe", factory)
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}

	latest, err := QueryLatestMetrics(ctx, ds, "", "")
	if err != nil {
		t.Fatalf("QueryLatestMetrics failed: %v", err)
	}
	if got := toString(latest["session_id"]); got != "sess-2" {
		t.Errorf("latest session_id = %q, want sess-2", got)
	}

	first, err := QueryLatestMetrics(ctx, ds, "sess-1", "")
	if err != nil {
		t.Fatalf("QueryLatestMetrics(sess-1) failed: %v", err)
	}
	if got := toString(first["session_id"]); got != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", got)
	}

	_, err = QueryLatestMetrics(ctx, ds, "", "other-source")
	if !errors.Is(err, ErrNoMetricsFound) {
		t.Errorf("err = %v, want ErrNoMetricsFound", err)
	}
}

func TestQueryLatestMetrics_EmptyDataset(t *testing.T) {
	ds, err := NewReadDataset("exifpipe", lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewReadDataset failed: %v", err)
	}
	_, err = QueryLatestMetrics(t.Context(), ds, "", "")
	if !errors.Is(err, ErrNoMetricsFound) {
		t.Errorf("err = %v, want ErrNoMetricsFound", err)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	tests := []struct {
		path  string
		key   string
		value string
		want  bool
	}{
		{"datasets/x/source=a/day=2026-01-1/file_type=PNG/seg.jsonl", "day", "2026-01-1", true},
		{"datasets/x/source=a/day=2026-01-10/file_type=PNG/seg.jsonl", "day", "2026-01-1", false},
		{"datasets/x/source=a/day=2026-01-10/file_type=PNG/seg.jsonl", "file_type", "PNG", true},
		{"datasets/x/source=ab/day=2026-01-10", "source", "a", false},
	}
	for _, tt := range tests {
		if got := matchesPartitionValue(tt.path, tt.key, tt.value); got != tt.want {
			t.Errorf("matchesPartitionValue(%q, %q, %q) = %v, want %v", tt.path, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestParseS3Location(t *testing.T) {
	tests := []struct {
		in         string
		wantBucket string
		wantPrefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/prefix", "bucket", "prefix"},
		{"bucket/a/b/", "bucket", "a/b"},
		{"s3://bucket/a", "bucket", "a"},
	}
	for _, tt := range tests {
		loc, err := ParseS3Location(tt.in)
		if err != nil {
			t.Errorf("ParseS3Location(%q): %v", tt.in, err)
			continue
		}
		if loc.Bucket != tt.wantBucket || loc.Prefix != tt.wantPrefix {
			t.Errorf("ParseS3Location(%q) = (%q, %q), want (%q, %q)", tt.in, loc.Bucket, loc.Prefix, tt.wantBucket, tt.wantPrefix)
		}
	}

	for _, bad := range []string{"", "s3://", "/prefix"} {
		if _, err := ParseS3Location(bad); err == nil {
			t.Errorf("ParseS3Location(%q) should fail without a bucket", bad)
		}
	}
}

func TestS3Location_URL(t *testing.T) {
	rel := "datasets/exifpipe/partitions/source=cam/day=2026-10-19"
	if got := (S3Location{Bucket: "b"}).URL(rel); got != "s3://b/"+rel {
		t.Errorf("URL = %q", got)
	}
	if got := (S3Location{Bucket: "b", Prefix: "p/q"}).URL("/" + rel); got != "s3://b/p/q/"+rel {
		t.Errorf("URL = %q", got)
	}
}

func TestS3Location_StoreFactoryRequiresBucket(t *testing.T) {
	if _, err := (S3Location{}).storeFactory(t.Context()); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestDeriveDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	start := time.Date(2026, 10, 20, 3, 0, 0, 0, loc)
	if got := DeriveDay(start); got != "2026-10-19" {
		t.Errorf("DeriveDay = %q, want 2026-10-19", got)
	}
}
