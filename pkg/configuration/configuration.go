package configuration

import (
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/crypto"
)

// Configuration is the ordered list of properties of one entity.
type Configuration []*Property

// New builds a Configuration from properties.
func New(props ...*Property) Configuration {
	return append(Configuration(nil), props...)
}

// GetProperty returns the property with exactly this key, or nil.
func (c Configuration) GetProperty(key string) *Property {
	for _, p := range c {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

// Add appends p.
func (c *Configuration) Add(p *Property) {
	*c = append(*c, p)
}

// AddAll appends every property of other.
func (c *Configuration) AddAll(other Configuration) {
	*c = append(*c, other...)
}

// AddNewConfiguration appends an empty property for key.
func (c *Configuration) AddNewConfiguration(key string, secure bool) {
	if secure {
		c.Add(NewSecureProperty(key, ""))
		return
	}
	c.Add(NewProperty(key, ""))
}

// AddNewConfigurationWithValue appends key=value, encrypting it when secure.
func (c *Configuration) AddNewConfigurationWithValue(key, value string, secure bool, cipher crypto.Cipher) error {
	p, err := Create(key, secure, value, cipher)
	if err != nil {
		return err
	}
	c.Add(p)
	return nil
}

// Keys returns the keys in order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, p := range c {
		keys = append(keys, p.Key())
	}
	return keys
}

// AsMap returns key to plain value. Secure values are decrypted when
// includeSecure is set and skipped otherwise.
func (c Configuration) AsMap(cipher crypto.Cipher, includeSecure bool) (map[string]string, error) {
	out := make(map[string]string, len(c))
	for _, p := range c {
		if p.IsSecure() && !includeSecure {
			continue
		}
		v, err := p.Value(cipher)
		if err != nil {
			return nil, err
		}
		out[p.Key()] = v
	}
	return out, nil
}

// ValidateUniqueness marks every pair of keys that collide ignoring case.
// label names the owner, e.g. "SCM 'git'".
func (c Configuration) ValidateUniqueness(label string) {
	seen := map[string]*Property{}
	for _, p := range c {
		name := strings.ToLower(p.Key())
		first, ok := seen[name]
		if !ok {
			seen[name] = p
			continue
		}
		msg := fmt.Sprintf("Duplicate key '%s' found for %s", p.Key(), label)
		first.AddError(FieldConfigurationKey, msg)
		p.AddError(FieldConfigurationKey, msg)
	}
}

// ForDisplay renders "[key1=value1, key2=value2]" for the properties accepted
// by show. Keys are lower-cased and empty values are skipped.
func (c Configuration) ForDisplay(show func(*Property) bool) string {
	var parts []string
	for _, p := range c {
		if p.IsSecure() || p.IsEmpty() || !show(p) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", strings.ToLower(p.Key()), p.PlainValue()))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ForDisplayWithSchema renders the identity properties of a plugin-backed
// entity. When the plugin is missing, or none of the keys is part of the
// plugin's identity, every non-secure value is shown.
func (c Configuration) ForDisplayWithSchema(schema Schema, pluginFound bool) string {
	identityOnly := false
	if pluginFound {
		for _, p := range c {
			if schema.IsPartOfIdentity(p.Key()) {
				identityOnly = true
				break
			}
		}
	}
	return c.ForDisplay(func(p *Property) bool {
		return !identityOnly || schema.IsPartOfIdentity(p.Key())
	})
}

// ClearEmptyConfigurations drops empty properties that carry no errors.
func (c *Configuration) ClearEmptyConfigurations() {
	kept := (*c)[:0]
	for _, p := range *c {
		if p.IsEmpty() && !p.HasErrors() {
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(*c); i++ {
		(*c)[i] = nil
	}
	*c = kept
}

// HasErrors reports whether any property recorded a validation error.
func (c Configuration) HasErrors() bool {
	for _, p := range c {
		if p.HasErrors() {
			return true
		}
	}
	return false
}

// HasSecretParams reports whether any property references a secret.
func (c Configuration) HasSecretParams() bool {
	for _, p := range c {
		if p.HasSecretParams() {
			return true
		}
	}
	return false
}

// SecretParams collects the secret references of all properties.
func (c Configuration) SecretParams() SecretParams {
	var out SecretParams
	for _, p := range c {
		out = append(out, p.SecretParams()...)
	}
	return out
}

// ApplySchema reclassifies each property as secure or plain according to
// schema.
func (c Configuration) ApplySchema(schema Schema, cipher crypto.Cipher) error {
	for _, p := range c {
		if err := p.HandleSecureValueConfiguration(schema.IsSecure(p.Key()), cipher); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the configuration without errors.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return nil
	}
	out := make(Configuration, len(c))
	for i, p := range c {
		out[i] = p.Clone()
	}
	return out
}

// SameValues reports whether both configurations hold the same keys with the
// same plain text values, in any order.
func (c Configuration) SameValues(other Configuration, cipher crypto.Cipher) bool {
	if len(c) != len(other) {
		return false
	}
	for _, p := range c {
		o := other.GetProperty(p.Key())
		if o == nil {
			return false
		}
		a, errA := p.Value(cipher)
		b, errB := o.Value(cipher)
		if errA != nil || errB != nil || a != b {
			return false
		}
	}
	return true
}
