package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	return entry
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Context{SessionID: "s-1", Mode: "session", Tool: "/usr/bin/exiftool"}).WithOutput(&buf)

	l.Info("spawned", map[string]any{"pid": 42})

	entry := decodeLine(t, &buf)
	if entry["message"] != "spawned" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["session_id"] != "s-1" || entry["mode"] != "session" || entry["tool"] != "/usr/bin/exiftool" {
		t.Errorf("context fields missing: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["pid"] != float64(42) {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_EmptyContextOmitted(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Context{Mode: "oneshot"}).WithOutput(&buf).Warn("x", nil)

	entry := decodeLine(t, &buf)
	if _, ok := entry["session_id"]; ok {
		t.Errorf("empty session_id should be omitted: %v", entry)
	}
	if entry["mode"] != "oneshot" {
		t.Errorf("mode = %v", entry["mode"])
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Context{Mode: "session"}).With(Context{SessionID: "late"}).WithOutput(&buf).Error("boom", nil)

	entry := decodeLine(t, &buf)
	if entry["session_id"] != "late" || entry["level"] != "error" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLoggerLevel_FiltersBelow(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter(Context{}, &buf, zapcore.WarnLevel)
	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	l.Warn("shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn entry missing: %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("nothing", map[string]any{"a": 1})
	l.Sugar().Infof("nothing %d", 1)
}

func TestSugar(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(Context{SessionID: "s"}).WithOutput(&buf).Sugar().With("file", "a.png").Infof("staged %d bytes", 10)

	entry := decodeLine(t, &buf)
	if entry["message"] != "staged 10 bytes" || entry["file"] != "a.png" {
		t.Errorf("entry = %v", entry)
	}
}
