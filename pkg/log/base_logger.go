package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const redacted = "[REDACTED]"

// core is shared by a logger and every logger derived from it.
type core struct {
	mu        sync.Mutex
	level     atomic.Int32
	formatter Formatter
	outputs   []Output
	redact    map[string]bool
}

// BaseLogger implements the Logger interface.
type BaseLogger struct {
	core   *core
	fields Fields
}

func (l *BaseLogger) enabled(level Level) bool {
	return Level(l.core.level.Load()) <= level
}

// Debug logs a message at the debug level with fields.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs a message at the info level with fields.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs a message at the warn level with fields.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs a message at the error level with fields.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *BaseLogger) Debugf(format string, args ...interface{}) { l.logf(DebugLevel, format, args) }
func (l *BaseLogger) Infof(format string, args ...interface{})  { l.logf(InfoLevel, format, args) }
func (l *BaseLogger) Warnf(format string, args ...interface{})  { l.logf(WarnLevel, format, args) }
func (l *BaseLogger) Errorf(format string, args ...interface{}) { l.logf(ErrorLevel, format, args) }

// With returns a new logger carrying fields in addition to the current ones.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	next := &BaseLogger{core: l.core, fields: make(Fields, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

// WithComponent returns a new logger with the component field added.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum log level of this logger and every logger
// derived from the same root.
func (l *BaseLogger) SetLevel(level Level) { l.core.level.Store(int32(level)) }

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level { return Level(l.core.level.Load()) }

func (l *BaseLogger) logf(level Level, format string, args []interface{}) {
	if !l.enabled(level) {
		return
	}
	l.write(level, fmt.Sprintf(format, args...), nil)
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if !l.enabled(level) {
		return
	}
	l.write(level, msg, fields)
}

func (l *BaseLogger) write(level Level, msg string, fields []Field) {
	entryFields := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		entryFields[k] = v
	}
	for _, f := range fields {
		entryFields[f.Key] = f.Value
	}
	for k := range entryFields {
		if l.core.redact[strings.ToLower(k)] {
			entryFields[k] = redacted
		}
	}

	entry := &Entry{Level: level, Message: msg, Fields: entryFields, Timestamp: time.Now()}
	formatted, err := l.core.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting log entry: %v\n", err)
		return
	}

	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	for _, output := range l.core.outputs {
		if err := output.Write(entry, formatted); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to log output: %v\n", err)
		}
	}
}
