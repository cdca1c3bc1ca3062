package log

import (
	"fmt"
	"strings"
	"sync"
)

// TestEntry is a log entry captured by a TestLogger.
type TestEntry struct {
	Level   Level
	Message string
	Fields  Fields
}

// TestLogger captures entries in memory instead of writing them. Loggers
// derived through With share the captured entries.
type TestLogger struct {
	sink   *testSink
	fields Fields
}

type testSink struct {
	mu      sync.Mutex
	entries []TestEntry
	level   Level
}

// NewTestLogger returns a TestLogger capturing every level.
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testSink{level: DebugLevel}, fields: Fields{}}
}

// Entries returns a copy of the captured entries.
func (l *TestLogger) Entries() []TestEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]TestEntry(nil), l.sink.entries...)
}

// Contains reports whether an entry at level has a message containing msg.
func (l *TestLogger) Contains(level Level, msg string) bool {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

func (l *TestLogger) Debug(msg string, fields ...Field) { l.capture(DebugLevel, msg, fields) }
func (l *TestLogger) Info(msg string, fields ...Field)  { l.capture(InfoLevel, msg, fields) }
func (l *TestLogger) Warn(msg string, fields ...Field)  { l.capture(WarnLevel, msg, fields) }
func (l *TestLogger) Error(msg string, fields ...Field) { l.capture(ErrorLevel, msg, fields) }

func (l *TestLogger) Debugf(format string, args ...interface{}) {
	l.capture(DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *TestLogger) Infof(format string, args ...interface{}) {
	l.capture(InfoLevel, fmt.Sprintf(format, args...), nil)
}

func (l *TestLogger) Warnf(format string, args ...interface{}) {
	l.capture(WarnLevel, fmt.Sprintf(format, args...), nil)
}

func (l *TestLogger) Errorf(format string, args ...interface{}) {
	l.capture(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// With implements Logger.
func (l *TestLogger) With(fields ...Field) Logger {
	next := &TestLogger{sink: l.sink, fields: make(Fields, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

// WithComponent implements Logger.
func (l *TestLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel implements Logger.
func (l *TestLogger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

// GetLevel implements Logger.
func (l *TestLogger) GetLevel() Level {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

func (l *TestLogger) capture(level Level, msg string, fields []Field) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if level < l.sink.level {
		return
	}
	all := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		all[k] = v
	}
	for _, f := range fields {
		all[f.Key] = f.Value
	}
	l.sink.entries = append(l.sink.entries, TestEntry{Level: level, Message: msg, Fields: all})
}
