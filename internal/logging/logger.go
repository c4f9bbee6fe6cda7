// Package logging provides structured logging for the coordination layer.
// It wraps Go's log/slog package to produce JSON-formatted logs with
// persistent attributes for post-hoc analysis of orchestration runs.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger provides structured JSON logging. It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	writer *RotatingWriter
	mu     sync.Mutex
	attrs  []slog.Attr // persistent attributes (project, run, component)
}

// NewLogger creates a Logger that writes JSON-formatted logs to
// {stateDir}/coordinator.log, rotating per the given RotationConfig.
//
// The level parameter controls which messages are logged:
//   - DEBUG: all messages
//   - INFO: info, warn, and error messages
//   - WARN: warn and error messages
//   - ERROR: only error messages
//
// If stateDir is empty, logs are written to stderr and rotation is disabled.
func NewLogger(stateDir, level string, rotation RotationConfig) (*Logger, error) {
	var writer io.Writer
	var rw *RotatingWriter

	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		var err error
		rw, err = NewRotatingWriter(filepath.Join(stateDir, "coordinator.log"), rotation)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writer = rw
	} else {
		writer = os.Stderr
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return &Logger{
		logger: slog.New(handler),
		writer: rw,
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// NewDiscard returns a Logger that drops all output. Useful in tests and
// for components constructed without an explicit logger.
func NewDiscard() *Logger {
	handler := slog.NewJSONHandler(io.Discard, nil)
	return &Logger{logger: slog.New(handler)}
}

// With returns a Logger that includes the given key-value pairs in every
// subsequent log record. The receiver is not modified.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		writer: l.writer,
	}
}

// Debug logs a message at debug level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs a message at info level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a message at warn level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs a message at error level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Sync flushes buffered log data to disk.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

// Close flushes and closes the underlying log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// parseLevel converts a level string to a slog.Level.
// Unknown values default to info.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
