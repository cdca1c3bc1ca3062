package extension

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/tidwall/gjson"
)

// TimestampLayout is the wire format of revision timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Member is one key of an Object.
type Member struct {
	Key   string
	Value any
}

// Object is a JSON object that keeps its member order on the wire. Plugins
// and their tests compare request bodies as text, so order matters.
type Object []Member

// With returns o with key appended.
func (o Object) With(key string, value any) Object {
	return append(o, Member{Key: key, Value: value})
}

// MarshalJSON implements json.Marshaler.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode renders v as compact JSON without HTML escaping.
func Encode(v any) (string, error) {
	b, err := marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SortedStrings renders m as an Object with sorted keys.
func SortedStrings(m map[string]string) Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Object, 0, len(keys))
	for _, k := range keys {
		out = append(out, Member{Key: k, Value: m[k]})
	}
	return out
}

// ConfigValue is one plain configuration value sent to a plugin.
type ConfigValue struct {
	Key   string
	Value string
}

// ConfigValues is an ordered list of configuration values.
type ConfigValues []ConfigValue

// ValuesOf decrypts cfg for sending to a plugin.
func ValuesOf(cfg configuration.Configuration, cipher crypto.Cipher) (ConfigValues, error) {
	out := make(ConfigValues, 0, len(cfg))
	for _, p := range cfg {
		v, err := p.ResolvedValue(cipher)
		if err != nil {
			return nil, fmt.Errorf("failed to read value of %q: %w", p.Key(), err)
		}
		out = append(out, ConfigValue{Key: p.Key(), Value: v})
	}
	return out, nil
}

// ValuesFromMap returns m as values sorted by key.
func ValuesFromMap(m map[string]string) ConfigValues {
	out := make(ConfigValues, 0, len(m))
	for _, member := range SortedStrings(m) {
		out = append(out, ConfigValue{Key: member.Key, Value: member.Value.(string)})
	}
	return out
}

// Keyed renders {"key":{"value":"v"}, ...}.
func (c ConfigValues) Keyed() Object {
	out := make(Object, 0, len(c))
	for _, v := range c {
		out = append(out, Member{Key: v.Key, Value: Object{{Key: "value", Value: v.Value}}})
	}
	return out
}

// Flat renders {"key":"v", ...}.
func (c ConfigValues) Flat() Object {
	out := make(Object, 0, len(c))
	for _, v := range c {
		out = append(out, Member{Key: v.Key, Value: v.Value})
	}
	return out
}

// Map returns the values keyed by key.
func (c ConfigValues) Map() map[string]string {
	out := make(map[string]string, len(c))
	for _, v := range c {
		out[v.Key] = v.Value
	}
	return out
}

// IsEmptyBody reports whether a response body carries nothing.
func IsEmptyBody(body string) bool {
	trimmed := strings.TrimSpace(body)
	return trimmed == "" || trimmed == "null"
}

// IsEmptyObject reports whether body is empty or an object without members.
func IsEmptyObject(body string) bool {
	if IsEmptyBody(body) {
		return true
	}
	root := gjson.Parse(body)
	return root.IsObject() && len(root.Map()) == 0
}

// parse rejects bodies that are not JSON.
func parse(body string) (gjson.Result, error) {
	if !gjson.Valid(body) {
		return gjson.Result{}, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	return gjson.Parse(body), nil
}

// MetadataDefaults are applied to keys of a metadata map that omit a flag.
type MetadataDefaults struct {
	PartOfIdentity bool
	Required       bool
	// DisplayNameFromKey uses the key when display-name is absent.
	DisplayNameFromKey bool
}

// DecodeMetadataMap decodes the map form of configuration metadata:
//
//	{"key":{"default-value":"","part-of-identity":true,"secure":false,
//	        "required":true,"display-name":"","display-order":"0"}}
//
// label names the configuration in diagnostics, e.g. "Repository
// configuration".
func DecodeMetadataMap(body, label string, defaults MetadataDefaults) (configuration.Schema, error) {
	if IsEmptyBody(body) {
		return nil, plugin.NewDeserializationError("Empty response body")
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("%s should be returned as a map", label)
	}

	var (
		schema  configuration.Schema
		decoded error
	)
	root.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if key == "" {
			decoded = plugin.NewDeserializationError("%s key cannot be empty", label)
			return false
		}
		if !v.IsObject() {
			decoded = plugin.NewDeserializationError("%s properties for key '%s' should be represented as a Map", label, key)
			return false
		}
		m := configuration.PropertyMetadata{
			Key:            key,
			PartOfIdentity: defaults.PartOfIdentity,
			Required:       defaults.Required,
		}
		if defaults.DisplayNameFromKey {
			m.DisplayName = key
		}
		if m.DefaultValue, decoded = optionalString(v, "default-value", key, m.DefaultValue); decoded != nil {
			return false
		}
		if m.PartOfIdentity, decoded = optionalBool(v, "part-of-identity", key, m.PartOfIdentity); decoded != nil {
			return false
		}
		if m.Secure, decoded = optionalBool(v, "secure", key, false); decoded != nil {
			return false
		}
		if m.Required, decoded = optionalBool(v, "required", key, m.Required); decoded != nil {
			return false
		}
		if m.DisplayName, decoded = optionalString(v, "display-name", key, m.DisplayName); decoded != nil {
			return false
		}
		if m.DisplayOrder, decoded = optionalInt(v, "display-order", key); decoded != nil {
			return false
		}
		schema = append(schema, m)
		return true
	})
	if decoded != nil {
		return nil, decoded
	}
	return schema, nil
}

func optionalBool(obj gjson.Result, field, key string, def bool) (bool, error) {
	v := obj.Get(gjson.Escape(field))
	switch v.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	case gjson.Null:
		if !v.Exists() {
			return def, nil
		}
	}
	return false, plugin.NewDeserializationError("'%s' property for key '%s' should be of type boolean", field, key)
}

func optionalString(obj gjson.Result, field, key, def string) (string, error) {
	v := obj.Get(gjson.Escape(field))
	if !v.Exists() {
		return def, nil
	}
	if v.Type != gjson.String {
		return "", plugin.NewDeserializationError("'%s' property for key '%s' should be of type string", field, key)
	}
	return v.Str, nil
}

func optionalInt(obj gjson.Result, field, key string) (int, error) {
	v := obj.Get(gjson.Escape(field))
	if !v.Exists() {
		return 0, nil
	}
	raw := ""
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = v.Str
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, plugin.NewDeserializationError("'%s' property for key '%s' should be of type integer", field, key)
	}
	return n, nil
}

// DecodeMetadataList decodes the list form of configuration metadata:
//
//	[{"key":"username","metadata":{"required":true,"secure":false}}]
func DecodeMetadataList(body string) (configuration.Schema, error) {
	if IsEmptyBody(body) {
		return nil, plugin.NewDeserializationError("Empty response body")
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}
	if !root.IsArray() {
		return nil, plugin.NewDeserializationError("Configuration metadata should be returned as a list")
	}

	var schema configuration.Schema
	for i, entry := range root.Array() {
		if !entry.IsObject() {
			return nil, plugin.NewDeserializationError("Configuration metadata at index %d should be a map", i)
		}
		key := entry.Get("key")
		if key.Type != gjson.String || key.Str == "" {
			return nil, plugin.NewDeserializationError("Configuration metadata at index %d should have a non-empty 'key'", i)
		}
		m := configuration.PropertyMetadata{Key: key.Str}
		meta := entry.Get("metadata")
		if meta.Exists() && meta.Type != gjson.Null {
			if !meta.IsObject() {
				return nil, plugin.NewDeserializationError("'metadata' for key '%s' should be a map", key.Str)
			}
			if m.Required, err = optionalBool(meta, "required", key.Str, false); err != nil {
				return nil, err
			}
			if m.Secure, err = optionalBool(meta, "secure", key.Str, false); err != nil {
				return nil, err
			}
			if m.DisplayName, err = optionalString(meta, "display_name", key.Str, ""); err != nil {
				return nil, err
			}
			if m.DisplayOrder, err = optionalInt(meta, "display_order", key.Str); err != nil {
				return nil, err
			}
		}
		schema = append(schema, m)
	}
	return schema, nil
}

// DecodeTemplate reads {"template":"..."}. A missing or blank template is an
// error naming label.
func DecodeTemplate(body, label string) (string, error) {
	if IsEmptyBody(body) {
		return "", fmt.Errorf("%s `template` was blank!", label)
	}
	root, err := parse(body)
	if err != nil {
		return "", err
	}
	if !root.IsObject() {
		return "", plugin.NewDeserializationError("%s should be returned as a map", label)
	}
	t := root.Get("template")
	if t.Type != gjson.String || strings.TrimSpace(t.Str) == "" {
		return "", fmt.Errorf("%s `template` was blank!", label)
	}
	return t.Str, nil
}

// DecodeValidationResult reads [{"key":"k","message":"m"}]. An empty body is
// a successful validation.
func DecodeValidationResult(body string) (*plugin.ValidationResult, error) {
	result := &plugin.ValidationResult{}
	if IsEmptyBody(body) {
		return result, nil
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}
	if !root.IsArray() {
		return nil, plugin.NewDeserializationError("Validation errors should be returned as list or errors, with each error represented as a map")
	}
	for _, e := range root.Array() {
		if !e.IsObject() {
			return nil, plugin.NewDeserializationError("Each validation error should be represented as a map")
		}
		key := e.Get("key")
		if key.Exists() && key.Type != gjson.String && key.Type != gjson.Null {
			return nil, plugin.NewDeserializationError("Validation error key should be of type string")
		}
		msg := e.Get("message")
		if msg.Exists() && msg.Type != gjson.String && msg.Type != gjson.Null {
			return nil, plugin.NewDeserializationError("Validation message should be of type string")
		}
		result.AddError(key.Str, msg.Str)
	}
	return result, nil
}

// DecodeCheckResult reads {"status":"success|failure","messages":[...]}.
func DecodeCheckResult(body string) (*plugin.Result, error) {
	if IsEmptyBody(body) {
		return nil, plugin.NewDeserializationError("Empty response body")
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("Check connection result should be returned as map, with key represented as string and messages represented as list")
	}
	status := root.Get("status")
	switch {
	case !status.Exists() || status.Type == gjson.Null:
		return nil, plugin.NewDeserializationError("Check connection 'status' is a required field")
	case status.Type != gjson.String:
		return nil, plugin.NewDeserializationError("Check connection 'status' should be of type string")
	case status.Str == "":
		return nil, plugin.NewDeserializationError("Check connection 'status' is a required field")
	}
	var messages []string
	if m := root.Get("messages"); m.Exists() && m.Type != gjson.Null {
		if !m.IsArray() {
			return nil, plugin.NewDeserializationError("Check connection 'messages' should be of type list of string")
		}
		for _, s := range m.Array() {
			if s.Type != gjson.String {
				return nil, plugin.NewDeserializationError("Check connection 'message' should be of type string")
			}
			messages = append(messages, s.Str)
		}
	}
	if strings.EqualFold(status.Str, "success") {
		return plugin.Success(messages...), nil
	}
	return plugin.Failure(messages...), nil
}

// DecodeImage reads {"content_type":"image/png","data":"<base64>"}.
func DecodeImage(body string) (*plugin.Image, error) {
	if IsEmptyBody(body) {
		return nil, plugin.NewDeserializationError("Empty response body")
	}
	root, err := parse(body)
	if err != nil {
		return nil, err
	}
	ct, data := root.Get("content_type"), root.Get("data")
	if ct.Type != gjson.String || data.Type != gjson.String {
		return nil, plugin.NewDeserializationError("Plugin icon should have 'content_type' and 'data' of type string")
	}
	return &plugin.Image{ContentType: ct.Str, Data: data.Str}, nil
}

// DecodeStringMap reads an object whose values are all strings. label names
// it in diagnostics.
func DecodeStringMap(v gjson.Result, label string) (map[string]string, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsObject() {
		return nil, plugin.NewDeserializationError("%s should be of type map", label)
	}
	out := make(map[string]string)
	var bad error
	v.ForEach(func(k, val gjson.Result) bool {
		if val.Type != gjson.String {
			bad = plugin.NewDeserializationError("%s value for key '%s' should be of type string", label, k.String())
			return false
		}
		out[k.String()] = val.Str
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

// DecodeStrings reads a list of strings.
func DecodeStrings(v gjson.Result, label string) ([]string, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, plugin.NewDeserializationError("%s should be of type list of string", label)
	}
	out := make([]string, 0, len(v.Array()))
	for _, s := range v.Array() {
		if s.Type != gjson.String {
			return nil, plugin.NewDeserializationError("%s should be of type list of string", label)
		}
		out = append(out, s.Str)
	}
	return out, nil
}

// ParseTimestamp parses a wire timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// FormatTimestamp renders t in the wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
