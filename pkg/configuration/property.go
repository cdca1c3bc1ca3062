// Package configuration holds the key/value properties that plugins attach to
// SCMs, package repositories, packages and plugin settings.
package configuration

import (
	"errors"
	"fmt"

	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/types"
)

// Error fields on a Property.
const (
	FieldConfigurationKey   = "configurationKey"
	FieldConfigurationValue = "configurationValue"
	FieldEncryptedValue     = "encryptedValue"
)

// Masked is shown in place of secure values.
const Masked = "****"

// ErrNoCipher is returned when a secure value must be encrypted or decrypted
// and no cipher was supplied.
var ErrNoCipher = errors.New("no cipher available for secure configuration value")

// Property is one configuration key with either a plain or an encrypted
// value, never both.
type Property struct {
	key          string
	value        string
	encrypted    string
	secure       bool
	secretParams SecretParams
	errors       types.ConfigErrors
}

// NewProperty returns a plain property.
func NewProperty(key, value string) *Property {
	return &Property{key: key, value: value, secretParams: ParseSecretParams(value)}
}

// NewSecureProperty returns a property holding an already encrypted value.
func NewSecureProperty(key, encrypted string) *Property {
	return &Property{key: key, encrypted: encrypted, secure: true}
}

// Create returns a property for key. A secure value is encrypted right away.
func Create(key string, secure bool, value string, c crypto.Cipher) (*Property, error) {
	p := NewProperty(key, value)
	if !secure {
		return p, nil
	}
	if err := p.HandleSecureValueConfiguration(true, c); err != nil {
		return nil, err
	}
	return p, nil
}

// Key returns the configuration key.
func (p *Property) Key() string { return p.key }

// IsSecure reports whether the value is held encrypted.
func (p *Property) IsSecure() bool { return p.secure }

// PlainValue returns the plain value; "" for secure properties.
func (p *Property) PlainValue() string { return p.value }

// EncryptedValue returns the encrypted value; "" for plain properties.
func (p *Property) EncryptedValue() string { return p.encrypted }

// SetValue replaces the value with a plain one.
func (p *Property) SetValue(v string) {
	p.value = v
	p.encrypted = ""
	p.secure = false
	p.secretParams = ParseSecretParams(v)
}

// SetEncryptedValue replaces the value with an encrypted one.
func (p *Property) SetEncryptedValue(enc string) {
	p.encrypted = enc
	p.value = ""
	p.secure = true
}

// Value returns the plain text value, decrypting secure properties.
func (p *Property) Value(c crypto.Cipher) (string, error) {
	if !p.secure {
		return p.value, nil
	}
	if p.encrypted == "" {
		return "", nil
	}
	if c == nil {
		return "", ErrNoCipher
	}
	return c.Decrypt(p.encrypted)
}

// DisplayValue is the value as shown to users.
func (p *Property) DisplayValue() string {
	if p.secure {
		return Masked
	}
	return p.value
}

// IsEmpty reports whether the property carries no value of its kind.
func (p *Property) IsEmpty() bool {
	if p.secure {
		return p.encrypted == ""
	}
	return p.value == ""
}

// HandleSecureValueConfiguration moves the value between plain and encrypted
// form. Calling it again with the same flag changes nothing.
func (p *Property) HandleSecureValueConfiguration(secure bool, c crypto.Cipher) error {
	if secure == p.secure {
		return nil
	}
	if c == nil {
		return ErrNoCipher
	}
	if secure {
		enc, err := c.Encrypt(p.value)
		if err != nil {
			return fmt.Errorf("failed to encrypt value of %q: %w", p.key, err)
		}
		p.encrypted, p.value, p.secure = enc, "", true
		return nil
	}
	plain, err := c.Decrypt(p.encrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt value of %q: %w", p.key, err)
	}
	p.value, p.encrypted, p.secure = plain, "", false
	p.secretParams = ParseSecretParams(plain)
	return nil
}

// ForFingerprint returns "key=value" using the decrypted value, so the result
// does not depend on whether the property is currently secure.
func (p *Property) ForFingerprint(c crypto.Cipher) (string, error) {
	v, err := p.Value(c)
	if err != nil {
		return "", err
	}
	return p.key + "=" + v, nil
}

// SecretParams returns the secret references found in the plain value.
func (p *Property) SecretParams() SecretParams { return p.secretParams }

// HasSecretParams reports whether the value references secrets.
func (p *Property) HasSecretParams() bool { return len(p.secretParams) > 0 }

// RefreshSecretParams re-parses secret references, decrypting secure values.
func (p *Property) RefreshSecretParams(c crypto.Cipher) error {
	v, err := p.Value(c)
	if err != nil {
		return err
	}
	p.secretParams = ParseSecretParams(v)
	return nil
}

// ResolvedValue returns the value with resolved secret params substituted.
// Unresolved params stay as their literal placeholder.
func (p *Property) ResolvedValue(c crypto.Cipher) (string, error) {
	v, err := p.Value(c)
	if err != nil {
		return "", err
	}
	return p.secretParams.Substitute(v), nil
}

// Errors returns the validation errors recorded on the property.
func (p *Property) Errors() *types.ConfigErrors { return &p.errors }

// AddError records msg against field.
func (p *Property) AddError(field, msg string) { p.errors.Add(field, msg) }

// AddErrorAgainstConfigurationValue records msg against the value.
func (p *Property) AddErrorAgainstConfigurationValue(msg string) {
	p.errors.Add(FieldConfigurationValue, msg)
}

// HasErrors reports whether validation recorded anything on the property.
func (p *Property) HasErrors() bool { return !p.errors.IsEmpty() }

// Equal compares key and stored values, ignoring errors.
func (p *Property) Equal(o *Property) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.key == o.key && p.secure == o.secure && p.value == o.value && p.encrypted == o.encrypted
}

// Clone returns a copy without errors.
func (p *Property) Clone() *Property {
	cp := *p
	cp.errors = types.ConfigErrors{}
	cp.secretParams = p.secretParams.Clone()
	return &cp
}

func (p *Property) String() string {
	return fmt.Sprintf("%s=%s", p.key, p.DisplayValue())
}
