package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// FileName is the diagnostic log inside .covloop/logs.
const FileName = "covloop.log"

// Logger appends structured lines to .covloop/logs/covloop.log so users
// can inspect failures after the monitor closes.
type Logger struct {
	*slog.Logger
	file *os.File
	path string
}

// New creates (or reuses) the log file in logsDir. When mirror is non-nil,
// every record is also written there.
func New(logsDir string, level slog.Level, mirror io.Writer) (*Logger, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logsDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	var w io.Writer = f
	if mirror != nil {
		w = io.MultiWriter(f, mirror)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler), file: f, path: path}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a flag value onto a slog level. Unknown names are an error.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}
