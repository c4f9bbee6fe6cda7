package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// FileName is the live event log file within the state directory.
	FileName = "events.jsonl"

	// DefaultRotateAfterLines is the rotation threshold used when none is
	// configured.
	DefaultRotateAfterLines = 5000
)

// StoredEvent is an immutable event record. Records are only ever appended;
// individual events are never updated or deleted.
type StoredEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Source    string          `json:"source,omitempty"`
}

// PollResult holds the events read by a poll and the offset for the next one.
type PollResult struct {
	Events   []StoredEvent
	LastLine int
}

// Log is an append-only JSONL event log. Writes are serialized with a
// mutex and use O_APPEND; reads are independent of writers.
type Log struct {
	dir              string
	rotateAfterLines int
	mu               sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithRotateAfterLines sets the line count above which RotateIfNeeded
// rotates the log.
func WithRotateAfterLines(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.rotateAfterLines = n
		}
	}
}

// New creates a Log stored in the given directory. The directory and log
// file are created lazily on first emit.
func New(dir string, opts ...Option) *Log {
	l := &Log{
		dir:              dir,
		rotateAfterLines: DefaultRotateAfterLines,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the path of the live log file.
func (l *Log) Path() string {
	return filepath.Join(l.dir, FileName)
}

// Emit appends one event to the log, generating its ID and timestamp.
// The containing directory is created if absent.
func (l *Log) Emit(eventType string, payload any, source string) (StoredEvent, error) {
	if eventType == "" {
		return StoredEvent{}, fmt.Errorf("eventlog: event type is required")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return StoredEvent{}, fmt.Errorf("eventlog: marshal payload: %w", err)
		}
		raw = data
	}

	ev := StoredEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   raw,
		Source:    source,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("eventlog: marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return StoredEvent{}, fmt.Errorf("eventlog: create directory: %w", err)
	}

	f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return StoredEvent{}, fmt.Errorf("eventlog: append event: %w", err)
	}
	return ev, nil
}

// Poll reads events from the given 0-based line offset to end of file.
// Lines that fail to parse are skipped. A missing log file yields an empty
// result at the requested offset.
func (l *Log) Poll(sinceLine int) (PollResult, error) {
	if sinceLine < 0 {
		sinceLine = 0
	}

	f, err := os.Open(l.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return PollResult{LastLine: sinceLine}, nil
		}
		return PollResult{}, fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	result := PollResult{LastLine: sinceLine}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if lineNo < sinceLine {
			lineNo++
			continue
		}
		lineNo++
		result.LastLine = lineNo

		var ev StoredEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Corrupt line; skip it but keep the offset moving.
			continue
		}
		result.Events = append(result.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		return PollResult{}, fmt.Errorf("eventlog: scan log: %w", err)
	}
	return result, nil
}

// RotateIfNeeded renames the log to a timestamped backup once its line
// count exceeds the configured threshold. Returns true if a rotation
// happened. The next Emit recreates the live file; pollers should restart
// from offset 0.
func (l *Log) RotateIfNeeded() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.countLines()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if count <= l.rotateAfterLines {
		return false, nil
	}

	backup := filepath.Join(l.dir, fmt.Sprintf("events-%s.jsonl", time.Now().UTC().Format("20060102T150405")))
	if err := os.Rename(l.Path(), backup); err != nil {
		return false, fmt.Errorf("eventlog: rotate log: %w", err)
	}
	return true, nil
}

// countLines returns the number of lines in the live log file.
func (l *Log) countLines() (int, error) {
	f, err := os.Open(l.Path())
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("eventlog: count lines: %w", err)
	}
	return count, nil
}
