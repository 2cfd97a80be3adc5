package backend

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := NewLogger(LogOptions{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("scan complete", "component", "scan", "files", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["level"] != "info" || record["msg"] != "scan complete" || record["component"] != "scan" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts field, got %v", record)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "trackcurator.log")
	logger, closer, err := NewLogger(LogOptions{Level: "debug", Format: "console", Output: &buf, File: path})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Debug("debug message")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "debug message") || !strings.Contains(buf.String(), "debug message") {
		t.Fatalf("expected record in both outputs, file=%q stdout=%q", content, buf.String())
	}
}

func TestNewLoggerRejectsUnknownValues(t *testing.T) {
	if _, _, err := NewLogger(LogOptions{Format: "xml", Output: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, _, err := NewLogger(LogOptions{Level: "loud", Output: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
