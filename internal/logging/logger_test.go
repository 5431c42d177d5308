package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fpsarena/server/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, InfoLevel).With(String("component", "sim"))

	logger.Debug("hidden")
	logger.Info("tick", Int("bots", 6), Duration("elapsed", 1500*time.Microsecond), Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected debug to be filtered, got %d lines", len(lines))
	}
	entry := lines[0]
	if entry["component"] != "sim" || entry["service"] != "arena" || entry["message"] != "tick" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["bots"].(float64) != 6 || entry["elapsed_ms"].(float64) != 1.5 || entry["error"] != "boom" {
		t.Fatalf("unexpected field values %v", entry)
	}
}

func TestFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, InfoLevel)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("stop")
	if code != 1 {
		t.Fatalf("expected exit(1), got %d", code)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if level, err := ParseLevel(" WARNING "); err != nil || level != WarnLevel {
		t.Fatalf("expected warn level, got %v %v", level, err)
	}
}

func TestRotatingWriterRollsOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.log")
	w, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	w.maxSize = 16
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 3; i++ {
		if _, err := w.Write([]byte("0123456789abcdef")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var gz int
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".gz") {
			gz++
		}
	}
	if gz != 1 {
		t.Fatalf("expected exactly one retained compressed backup, got %d (%v)", gz, entries)
	}
}

func TestHTTPTraceMiddlewarePropagatesID(t *testing.T) {
	var seen *Logger
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(TraceIDHeader) != "abc" {
		t.Fatalf("expected trace id echoed, got %q", rec.Header().Get(TraceIDHeader))
	}
	if seen == nil || seen.fields[TraceIDField] != "abc" {
		t.Fatalf("expected request logger to carry trace id")
	}
}
