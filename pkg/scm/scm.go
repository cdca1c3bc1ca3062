// Package scm models pluggable SCM definitions: materials whose checkout and
// polling is delegated to an SCM plugin.
package scm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/types"
)

// Error fields and attribute keys.
const (
	FieldID         = "id"
	FieldName       = "name"
	FieldSCMID      = "scmId"
	FieldAutoUpdate = "autoUpdate"

	// ValueKey is the key of the inner map returned by ConfigAsMap.
	ValueKey = "value"
)

// SCM is a named configuration for one SCM plugin.
type SCM struct {
	ID                  string
	Name                string
	AutoUpdate          bool
	PluginConfiguration configuration.PluginConfiguration
	Configuration       configuration.Configuration

	errors types.ConfigErrors
}

// New returns an SCM with auto update enabled.
func New(id string, plugin configuration.PluginConfiguration, cfg configuration.Configuration) *SCM {
	return &SCM{ID: id, AutoUpdate: true, PluginConfiguration: plugin, Configuration: cfg}
}

// EnsureIDExists assigns a random id when none was configured.
func (s *SCM) EnsureIDExists() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
}

// Errors returns the errors recorded on the SCM itself.
func (s *SCM) Errors() *types.ConfigErrors { return &s.errors }

// AddError records msg against field.
func (s *SCM) AddError(field, msg string) { s.errors.Add(field, msg) }

// Validate checks the name and the uniqueness of configuration keys. Errors
// are recorded on the SCM and its properties.
func (s *SCM) Validate() {
	switch {
	case s.Name == "":
		s.AddError(FieldName, "Please provide name")
	case !types.IsValidName(s.Name):
		s.AddError(FieldName, types.InvalidNameMessage("SCM", s.Name))
	}
	s.Configuration.ValidateUniqueness(fmt.Sprintf("SCM '%s'", s.Name))
}

// HasErrors reports whether the SCM or any of its properties has errors.
func (s *SCM) HasErrors() bool {
	return !s.errors.IsEmpty() || s.Configuration.HasErrors()
}

// Fingerprint identifies the SCM by plugin id and the values of its identity
// keys. Without plugin metadata every key counts as identity.
func (s *SCM) Fingerprint(schemas configuration.SchemaSource, cipher crypto.Cipher) (string, error) {
	schema, found := configuration.Lookup(schemas, s.PluginConfiguration.ID)
	parts := []string{"plugin-id=" + s.PluginConfiguration.ID}
	for _, p := range s.Configuration {
		if found && !schema.IsPartOfIdentity(p.Key()) {
			continue
		}
		fp, err := p.ForFingerprint(cipher)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint SCM %q: %w", s.Name, err)
		}
		parts = append(parts, fp)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, configuration.FingerprintDelimiter)))
	return hex.EncodeToString(sum[:]), nil
}

// ConfigForDisplay renders the identity configuration for listings.
func (s *SCM) ConfigForDisplay(schemas configuration.SchemaSource) string {
	schema, found := configuration.Lookup(schemas, s.PluginConfiguration.ID)
	display := s.Configuration.ForDisplayWithSchema(schema, found)
	if !found {
		return "WARNING! Plugin missing. " + display
	}
	return display
}

// ApplyPluginMetadata encrypts or decrypts each property according to the
// plugin's schema. Nothing changes when the plugin is not loaded.
func (s *SCM) ApplyPluginMetadata(schemas configuration.SchemaSource, cipher crypto.Cipher) error {
	schema, found := configuration.Lookup(schemas, s.PluginConfiguration.ID)
	if !found {
		return nil
	}
	return s.Configuration.ApplySchema(schema, cipher)
}

// SetConfigAttributes applies form attributes. Plugin keys are only taken
// from attrs when the plugin declared them; keys missing from attrs keep
// their current value.
func (s *SCM) SetConfigAttributes(attrs map[string]string, schemas configuration.SchemaSource, cipher crypto.Cipher) error {
	schema, found := configuration.Lookup(schemas, s.PluginConfiguration.ID)
	if !found {
		return fmt.Errorf("metadata unavailable for plugin: %s", s.PluginConfiguration.ID)
	}
	if v, ok := attrs[FieldSCMID]; ok {
		s.ID = v
	}
	if v, ok := attrs[FieldName]; ok {
		s.Name = v
	}
	if v, ok := attrs[FieldAutoUpdate]; ok {
		auto, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", FieldAutoUpdate, v, err)
		}
		s.AutoUpdate = auto
	}
	for _, m := range schema {
		v, ok := attrs[m.Key]
		if !ok {
			continue
		}
		p, err := configuration.Create(m.Key, m.Secure, v, cipher)
		if err != nil {
			return err
		}
		if existing := s.Configuration.GetProperty(m.Key); existing != nil {
			*existing = *p
			continue
		}
		s.Configuration.Add(p)
	}
	return nil
}

// ConfigAsMap returns key to {"value": plain text value}.
func (s *SCM) ConfigAsMap(cipher crypto.Cipher) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(s.Configuration))
	for _, p := range s.Configuration {
		v, err := p.Value(cipher)
		if err != nil {
			return nil, err
		}
		out[p.Key()] = map[string]string{ValueKey: v}
	}
	return out, nil
}

// AddConfigurations appends properties regardless of plugin metadata.
func (s *SCM) AddConfigurations(props []*configuration.Property) {
	s.Configuration.AddAll(props)
}

// ClearEmptyConfigurations drops empty properties without errors.
func (s *SCM) ClearEmptyConfigurations() {
	s.Configuration.ClearEmptyConfigurations()
}

// HasSecretParams reports whether any value references a secret.
func (s *SCM) HasSecretParams() bool { return s.Configuration.HasSecretParams() }

// SecretParams returns every secret referenced by the configuration.
func (s *SCM) SecretParams() configuration.SecretParams { return s.Configuration.SecretParams() }

// SCMType is the material type name used by the views.
func (s *SCM) SCMType() string {
	return "pluggable_material_" + strings.ReplaceAll(s.PluginConfiguration.ID, "-", "_")
}

// Equal compares ids, names, plugin and configuration.
func (s *SCM) Equal(o *SCM) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.ID != o.ID || s.Name != o.Name || s.AutoUpdate != o.AutoUpdate || s.PluginConfiguration != o.PluginConfiguration {
		return false
	}
	if len(s.Configuration) != len(o.Configuration) {
		return false
	}
	for i := range s.Configuration {
		if !s.Configuration[i].Equal(o.Configuration[i]) {
			return false
		}
	}
	return true
}

// sameDefinition compares plugin and configuration values, ignoring id and
// name.
func (s *SCM) sameDefinition(o *SCM, cipher crypto.Cipher) bool {
	return s.PluginConfiguration.ID == o.PluginConfiguration.ID &&
		s.Configuration.SameValues(o.Configuration, cipher)
}

// Clone deep-copies the SCM without errors.
func (s *SCM) Clone() *SCM {
	cp := *s
	cp.errors = types.ConfigErrors{}
	cp.Configuration = s.Configuration.Clone()
	return &cp
}
