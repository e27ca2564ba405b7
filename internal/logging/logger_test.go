package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesFileAndMirror(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var mirror bytes.Buffer
	logger, err := New(dir, slog.LevelInfo, &mirror)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("iteration finished", "iteration", 3, "status", "Coverage below target")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "iteration=3") || !strings.Contains(text, `status="Coverage below target"`) {
		t.Fatalf("unexpected log contents: %q", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug record should be filtered: %q", text)
	}
	if mirror.String() != text {
		t.Fatalf("mirror mismatch:\n%q\n%q", mirror.String(), text)
	}
	if logger.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("path = %s", logger.Path())
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("ParseLevel(debug) = %v, %v", level, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
	if l.Path() != "" {
		t.Fatalf("expected empty path")
	}
}
