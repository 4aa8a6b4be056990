package policy_test

import (
	"errors"
	"testing"

	"github.com/pithecene-io/exifpipe/policy"
)

func mustNewBufferedPolicy(t *testing.T, sink policy.Sink, config policy.BufferedConfig) *policy.BufferedPolicy {
	t.Helper()
	pol, err := policy.NewBufferedPolicy(sink, config)
	if err != nil {
		t.Fatalf("NewBufferedPolicy failed: %v", err)
	}
	return pol
}

func TestBufferedPolicy_InvalidConfig(t *testing.T) {
	_, err := policy.NewBufferedPolicy(policy.NewStubSink(), policy.BufferedConfig{})
	if !errors.Is(err, policy.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestBufferedPolicy_DefaultConfigValid(t *testing.T) {
	mustNewBufferedPolicy(t, policy.NewStubSink(), policy.DefaultBufferedConfig())
}

func TestBufferedPolicy_WritesOnlyOnFlush(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustNewBufferedPolicy(t, sink, policy.BufferedConfig{MaxBufferRecords: 10})

	_ = pol.Ingest(t.Context(), records("a", 2))
	_ = pol.Ingest(t.Context(), records("b", 3))
	if st := sink.Stats(); st.Batches != 0 {
		t.Fatalf("batches before flush = %d, want 0", st.Batches)
	}
	if pol.Stats().BufferSize == 0 {
		t.Error("buffer size should be tracked")
	}

	if err := pol.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	st := sink.Stats()
	if st.Batches != 1 || st.RecordsWritten != 5 {
		t.Errorf("sink = %+v, want one batch of 5", st)
	}
	if ps := pol.Stats(); ps.RecordsPersisted != 5 || ps.BufferSize != 0 {
		t.Errorf("stats = %+v", ps)
	}

	// An empty flush writes nothing.
	if err := pol.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st := sink.Stats(); st.Batches != 1 {
		t.Errorf("batches = %d, want 1", st.Batches)
	}
}

func TestBufferedPolicy_RecordLimitRejectsWholeInput(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustNewBufferedPolicy(t, sink, policy.BufferedConfig{MaxBufferRecords: 3})

	if err := pol.Ingest(t.Context(), records("a", 2)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	err := pol.Ingest(t.Context(), records("b", 2))
	if !errors.Is(err, policy.ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}

	_ = pol.Flush(t.Context())
	if st := sink.Stats(); st.RecordsWritten != 2 {
		t.Errorf("records written = %d, want only the first input", st.RecordsWritten)
	}
	if ps := pol.Stats(); ps.Errors != 1 || ps.TotalRecords != 4 {
		t.Errorf("stats = %+v", ps)
	}
}

func TestBufferedPolicy_ByteLimit(t *testing.T) {
	pol := mustNewBufferedPolicy(t, policy.NewStubSink(), policy.BufferedConfig{MaxBufferBytes: 200})

	if err := pol.Ingest(t.Context(), records("a", 1)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := pol.Ingest(t.Context(), records("b", 10)); !errors.Is(err, policy.ErrBufferFull) {
		t.Errorf("err = %v, want ErrBufferFull", err)
	}
}

func TestBufferedPolicy_FailedFlushKeepsBuffer(t *testing.T) {
	sink := policy.NewStubSink()
	sink.ErrorOnWrite = errors.New("store down")
	pol := mustNewBufferedPolicy(t, sink, policy.BufferedConfig{MaxBufferRecords: 10})

	_ = pol.Ingest(t.Context(), records("a", 3))
	if err := pol.Flush(t.Context()); err == nil {
		t.Fatal("expected flush error")
	}
	if ps := pol.Stats(); ps.Errors != 1 || ps.BufferSize == 0 {
		t.Errorf("stats after failure = %+v", ps)
	}

	sink.SetError(nil)
	if err := pol.Flush(t.Context()); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if st := sink.Stats(); st.RecordsWritten != 3 {
		t.Errorf("records written = %d, want 3", st.RecordsWritten)
	}
}

func TestBufferedPolicy_CloseFlushes(t *testing.T) {
	sink := policy.NewStubSink()
	pol := mustNewBufferedPolicy(t, sink, policy.BufferedConfig{MaxBufferRecords: 10})

	_ = pol.Ingest(t.Context(), records("a", 2))
	if err := pol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st := sink.Stats()
	if st.RecordsWritten != 2 || !st.Closed {
		t.Errorf("sink = %+v", st)
	}
}

func TestBufferedPolicy_CloseReportsFlushFailure(t *testing.T) {
	sink := policy.NewStubSink()
	sink.ErrorOnWrite = errors.New("store down")
	pol := mustNewBufferedPolicy(t, sink, policy.BufferedConfig{MaxBufferRecords: 10})

	_ = pol.Ingest(t.Context(), records("a", 1))
	if err := pol.Close(); !errors.Is(err, sink.ErrorOnWrite) {
		t.Errorf("Close err = %v, want the flush error", err)
	}
	if !sink.Stats().Closed {
		t.Error("sink should be closed even when the flush fails")
	}
}
