package log

import "time"

// Field represents a structured log field with a key and value
type Field struct {
	Key   string
	Value interface{}
}

// F creates a log field with the provided key and value
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err creates an error field. A nil error is logged as nil.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Str(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field             { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field         { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field           { return Field{Key: key, Value: value} }
func Time(key string, value time.Time) Field      { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field     { return Field{Key: key, Value: value} }

// Duration logs d in its String form so text and JSON output agree.
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Component tags an entry with the component that wrote it.
func Component(value string) Field { return Field{Key: ComponentKey, Value: value} }

// RequestID tags an entry with the id of the HTTP request it belongs to.
func RequestID(value string) Field { return Field{Key: RequestIDKey, Value: value} }

// Plugin tags an entry with the plugin it concerns.
func Plugin(id string) Field { return Field{Key: PluginKey, Value: id} }

// Extension tags an entry with a plugin extension type.
func Extension(name string) Field { return Field{Key: ExtensionKey, Value: name} }

// Repo tags an entry with a config repository id.
func Repo(id string) Field { return Field{Key: RepoKey, Value: id} }

// Revision tags an entry with a config repository revision.
func Revision(rev string) Field { return Field{Key: RevisionKey, Value: rev} }
