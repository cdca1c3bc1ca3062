package settings

import (
	"encoding/json"
	"sort"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/types"
)

// PluginSettings are the global settings an administrator saved for a
// plugin. Secure values are held encrypted.
type PluginSettings struct {
	PluginID      string
	Configuration configuration.Configuration

	errors types.ConfigErrors
}

// NewPluginSettings builds settings for pluginID from plain values. Keys the
// schema marks secure are encrypted with cipher.
func NewPluginSettings(pluginID string, values map[string]string, schema configuration.Schema, cipher crypto.Cipher) (*PluginSettings, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ps := &PluginSettings{PluginID: pluginID}
	for _, k := range keys {
		p, err := configuration.Create(k, schema.IsSecure(k), values[k], cipher)
		if err != nil {
			return nil, err
		}
		ps.Configuration.Add(p)
	}
	return ps, nil
}

// Errors returns the errors recorded on the settings themselves.
func (s *PluginSettings) Errors() *types.ConfigErrors { return &s.errors }

// HasErrors reports whether the settings or any property carry errors.
func (s *PluginSettings) HasErrors() bool {
	return !s.errors.IsEmpty() || s.Configuration.HasErrors()
}

// AddErrorFor records msg against the value of key. Unknown keys are
// recorded on the settings.
func (s *PluginSettings) AddErrorFor(key, msg string) {
	if p := s.Configuration.GetProperty(key); p != nil {
		p.AddErrorAgainstConfigurationValue(msg)
		return
	}
	s.errors.Add(key, msg)
}

// Values returns the settings as plain values.
func (s *PluginSettings) Values(cipher crypto.Cipher) (map[string]string, error) {
	return s.Configuration.AsMap(cipher, true)
}

type persistedProperty struct {
	Key            string `json:"key"`
	Value          string `json:"value,omitempty"`
	EncryptedValue string `json:"encrypted_value,omitempty"`
}

type persistedSettings struct {
	PluginID      string              `json:"plugin_id"`
	Configuration []persistedProperty `json:"configuration"`
}

// MarshalJSON renders the stored form. Secure values stay encrypted.
func (s *PluginSettings) MarshalJSON() ([]byte, error) {
	out := persistedSettings{
		PluginID:      s.PluginID,
		Configuration: make([]persistedProperty, 0, len(s.Configuration)),
	}
	for _, p := range s.Configuration {
		pp := persistedProperty{Key: p.Key()}
		if p.IsSecure() {
			pp.EncryptedValue = p.EncryptedValue()
		} else {
			pp.Value = p.PlainValue()
		}
		out.Configuration = append(out.Configuration, pp)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores settings from their stored form.
func (s *PluginSettings) UnmarshalJSON(data []byte) error {
	var in persistedSettings
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.PluginID = in.PluginID
	s.Configuration = make(configuration.Configuration, 0, len(in.Configuration))
	for _, pp := range in.Configuration {
		if pp.EncryptedValue != "" {
			s.Configuration = append(s.Configuration, configuration.NewSecureProperty(pp.Key, pp.EncryptedValue))
		} else {
			s.Configuration = append(s.Configuration, configuration.NewProperty(pp.Key, pp.Value))
		}
	}
	return nil
}
