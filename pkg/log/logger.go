// Package log is the structured logger shared by the Cruise server, its
// config repository poller and the plugin transports.
package log

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name as written in the server configuration.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Well-known field keys.
const (
	RequestIDKey = "request_id"
	ComponentKey = "component"
	PluginKey    = "plugin_id"
	ExtensionKey = "extension"
	RepoKey      = "repo"
	RevisionKey  = "revision"
)

// Entry represents a single log entry.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
}

// Logger defines the logging interface used across Cruise components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Printf-style variants for adapting third-party loggers.
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger

	// WithComponent tags logs with a component name
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formatted []byte) error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// NewLogger creates a new logger with the given options. Without options it
// writes JSON at info level to stderr.
func NewLogger(options ...LoggerOption) Logger {
	logger := &BaseLogger{
		core: &core{
			formatter: &JSONFormatter{},
			redact:    map[string]bool{},
		},
		fields: Fields{},
	}
	logger.core.level.Store(int32(InfoLevel))
	for _, option := range options {
		option(logger)
	}
	if len(logger.core.outputs) == 0 {
		logger.core.outputs = append(logger.core.outputs, NewConsoleOutput(nil))
	}
	return logger
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.core.level.Store(int32(level)) }
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.core.formatter = formatter }
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.core.outputs = append(l.core.outputs, output) }
}

// WithRedaction masks the values of the given field keys. Keys match
// case-insensitively.
func WithRedaction(keys ...string) LoggerOption {
	return func(l *BaseLogger) {
		for _, k := range keys {
			l.core.redact[strings.ToLower(k)] = true
		}
	}
}

// SecretKeys are the field names redacted by the server logger.
var SecretKeys = []string{"token", "secret", "password", "api_key", "encrypted_value"}

var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(loggerHolder{NewLogger(WithLevel(InfoLevel), WithFormatter(&TextFormatter{}))})
}

type loggerHolder struct{ Logger }

// SetDefaultLogger sets the global default logger.
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(loggerHolder{logger})
}

// GetDefaultLogger returns the global default logger.
func GetDefaultLogger() Logger {
	return defaultLogger.Load().(loggerHolder).Logger
}
