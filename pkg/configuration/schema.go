package configuration

import "sort"

// FingerprintDelimiter joins the parts of a fingerprint. Stored fingerprints
// depend on it, so it must not change.
const FingerprintDelimiter = "<|>"

// PluginConfiguration identifies the plugin that owns an entity.
type PluginConfiguration struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// PropertyMetadata is what a plugin declares about one configuration key.
type PropertyMetadata struct {
	Key            string `json:"key"`
	DefaultValue   string `json:"default_value,omitempty"`
	PartOfIdentity bool   `json:"part_of_identity"`
	Secure         bool   `json:"secure"`
	Required       bool   `json:"required"`
	DisplayName    string `json:"display_name,omitempty"`
	DisplayOrder   int    `json:"display_order"`
}

// Label returns the display name, falling back to the key.
func (m PropertyMetadata) Label() string {
	if m.DisplayName == "" {
		return m.Key
	}
	return m.DisplayName
}

// Schema is the ordered list of keys a plugin accepts.
type Schema []PropertyMetadata

// Get returns the metadata for key.
func (s Schema) Get(key string) (PropertyMetadata, bool) {
	for _, m := range s {
		if m.Key == key {
			return m, true
		}
	}
	return PropertyMetadata{}, false
}

// Has reports whether the plugin declared key.
func (s Schema) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// IsSecure reports whether key is declared secure.
func (s Schema) IsSecure(key string) bool {
	m, ok := s.Get(key)
	return ok && m.Secure
}

// IsPartOfIdentity reports whether key contributes to fingerprints.
func (s Schema) IsPartOfIdentity(key string) bool {
	m, ok := s.Get(key)
	return ok && m.PartOfIdentity
}

// Keys returns the declared keys in order.
func (s Schema) Keys() []string {
	out := make([]string, 0, len(s))
	for _, m := range s {
		out = append(out, m.Key)
	}
	return out
}

// SortedByDisplayOrder returns a copy sorted for rendering.
func (s Schema) SortedByDisplayOrder() Schema {
	out := append(Schema(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// SchemaSource looks up the schema a loaded plugin declared.
type SchemaSource interface {
	SchemaFor(pluginID string) (Schema, bool)
}

// StaticSchemas is a fixed SchemaSource.
type StaticSchemas map[string]Schema

// SchemaFor implements SchemaSource.
func (s StaticSchemas) SchemaFor(pluginID string) (Schema, bool) {
	schema, ok := s[pluginID]
	return schema, ok
}

// Lookup returns the schema for pluginID from src, tolerating a nil source.
func Lookup(src SchemaSource, pluginID string) (Schema, bool) {
	if src == nil {
		return nil, false
	}
	return src.SchemaFor(pluginID)
}
