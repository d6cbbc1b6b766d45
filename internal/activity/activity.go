// Package activity records the human-readable event stream shown to
// operators: one timestamped line per detection, restore, upload or
// authorization decision.
package activity

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity is the number of entries retained when none is configured.
const DefaultCapacity = 1000

// Level classifies an entry.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Entry is a single activity line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Path      string    `json:"path,omitempty"`
}

// Log is a bounded, thread-safe ring of entries. Every entry is also written
// to the structured logger.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a Log retaining up to capacity entries.
func New(capacity int, logger *zap.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries: make([]Entry, capacity),
		now:     time.Now,
		logger:  logger,
	}
}

// Info records an informational entry about path.
func (l *Log) Info(path, msg string, fields ...zap.Field) {
	l.record(LevelInfo, path, msg)
	l.logger.Info(msg, append(fields, zap.String("path", path))...)
}

// Warn records a warning entry about path.
func (l *Log) Warn(path, msg string, fields ...zap.Field) {
	l.record(LevelWarn, path, msg)
	l.logger.Warn(msg, append(fields, zap.String("path", path))...)
}

func (l *Log) record(level Level, path, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = Entry{Timestamp: l.now().UTC(), Level: level, Message: msg, Path: path}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns everything retained.
func (l *Log) Entries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ordered []Entry
	if l.full {
		ordered = append(ordered, l.entries[l.next:]...)
	}
	ordered = append(ordered, l.entries[:l.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
