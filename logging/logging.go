// Package logging provides real-time leveled log output for the hub.
// Lines are plain text so they stay readable on a console and greppable in
// files: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level: %q", s)
	}
	return level, nil
}

// sink is the destination shared by a logger and everything derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger provides leveled logging to stdout.
// Loggers derived with WithComponent share output, level and write lock.
type Logger struct {
	sink      *sink
	component string
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		sink: &sink{output: os.Stdout, minLevel: LevelInfo},
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{
		sink: &sink{output: io.Discard, minLevel: LevelError},
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs, sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// --- Hub event logging ---

// ObjectUpdated logs a committed create-or-update.
func (l *Logger) ObjectUpdated(key string, id int64, hasMeta, hasData bool) {
	l.Debug("object_updated", map[string]interface{}{
		"key":      key,
		"id":       id,
		"has_meta": hasMeta,
		"has_data": hasData,
	})
}

// ObjectDeleted logs a delete request; existed reports whether a record was removed.
func (l *Logger) ObjectDeleted(key string, existed bool) {
	l.Info("object_deleted", map[string]interface{}{
		"key":     key,
		"existed": existed,
	})
}

// ClientAttached logs a new push connection.
func (l *Logger) ClientAttached(addr string, clientID int64) {
	l.Info("client_attached", map[string]interface{}{
		"addr":      addr,
		"client_id": clientID,
	})
}

// ClientDetached logs a departed push connection.
func (l *Logger) ClientDetached(addr string) {
	l.Info("client_detached", map[string]interface{}{
		"addr": addr,
	})
}

// SendFailed logs a push that could not be delivered to one recipient.
func (l *Logger) SendFailed(addr, operation string, err error) {
	l.Warn("send_failed", map[string]interface{}{
		"addr":      addr,
		"operation": operation,
		"error":     err.Error(),
	})
}

// QueryIssued logs a broadcast query.
func (l *Logger) QueryIssued(queryID string, expected int) {
	l.Debug("query_issued", map[string]interface{}{
		"query":    queryID,
		"expected": expected,
	})
}

// QueryCompleted logs the outcome of waiting on a query.
func (l *Logger) QueryCompleted(queryID string, received, expected int, duration time.Duration) {
	l.Debug("query_completed", map[string]interface{}{
		"query":    queryID,
		"received": received,
		"expected": expected,
		"duration": duration.String(),
	})
}

// UnmatchedReply logs an inbound message that no open query accepted.
func (l *Logger) UnmatchedReply(addr string, size int) {
	l.Warn("unmatched_reply", map[string]interface{}{
		"addr":  addr,
		"bytes": size,
	})
}

// RecordSkipped logs a persisted record that could not be loaded.
func (l *Logger) RecordSkipped(file string, err error) {
	l.Warn("record_skipped", map[string]interface{}{
		"file":  file,
		"error": err.Error(),
	})
}
