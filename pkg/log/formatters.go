package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// JSONFormatter formats log entries as one JSON object per line.
type JSONFormatter struct {
	TimestampFormat string
}

// Format formats the entry as JSON.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	// Standard keys win over fields of the same name.
	layout := time.RFC3339
	if f.TimestampFormat != "" {
		layout = f.TimestampFormat
	}
	data["timestamp"] = entry.Timestamp.Format(layout)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter formats log entries as human-readable lines with fields in
// key order.
type TextFormatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format formats the entry as text.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	layout := "2006-01-02T15:04:05.000"
	if f.TimestampFormat != "" {
		layout = f.TimestampFormat
	}
	ts := entry.Timestamp.Format(layout)
	level := entry.Level.String()
	if !f.DisableColors {
		ts = colorDim + ts + colorReset
		level = colorizeLevel(entry.Level)
	}

	var b strings.Builder
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		if f.DisableColors {
			b.WriteString(k)
		} else {
			b.WriteString(colorCyan + k + colorReset)
		}
		fmt.Fprintf(&b, "=%v", entry.Fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// Color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[90m"
)

func colorizeLevel(level Level) string {
	switch level {
	case DebugLevel:
		return colorBlue + "DBG" + colorReset
	case InfoLevel:
		return colorGreen + "INF" + colorReset
	case WarnLevel:
		return colorYellow + "WRN" + colorReset
	case ErrorLevel:
		return colorRed + "ERR" + colorReset
	default:
		return level.String()
	}
}
