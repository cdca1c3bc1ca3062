package configuration

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var secretParamPattern = regexp.MustCompile(`\{\{SECRET:\[(.*?)\]\[(.*?)\]\}\}`)

// SecretParam is a {{SECRET:[configId][key]}} reference inside a value. The
// actual secret is filled in by a SecretResolver.
type SecretParam struct {
	ConfigID string
	Key      string
	value    *string
}

// NewSecretParam returns an unresolved param.
func NewSecretParam(configID, key string) *SecretParam {
	return &SecretParam{ConfigID: configID, Key: key}
}

// Placeholder renders the param the way it appears in configuration.
func (s *SecretParam) Placeholder() string {
	return fmt.Sprintf("{{SECRET:[%s][%s]}}", s.ConfigID, s.Key)
}

// SetValue stores the resolved secret.
func (s *SecretParam) SetValue(v string) { s.value = &v }

// IsUnresolved reports whether no value was set yet.
func (s *SecretParam) IsUnresolved() bool { return s.value == nil }

// Value returns the resolved secret, or the placeholder while unresolved.
func (s *SecretParam) Value() string {
	if s.value == nil {
		return s.Placeholder()
	}
	return *s.value
}

// SecretParams is the ordered list of params found in one or more values.
type SecretParams []*SecretParam

// ParseSecretParams extracts every secret reference in v.
func ParseSecretParams(v string) SecretParams {
	matches := secretParamPattern.FindAllStringSubmatch(v, -1)
	if len(matches) == 0 {
		return nil
	}
	params := make(SecretParams, 0, len(matches))
	for _, m := range matches {
		params = append(params, NewSecretParam(m[1], m[2]))
	}
	return params
}

// HasSecretParams reports whether the list is non-empty.
func (p SecretParams) HasSecretParams() bool { return len(p) > 0 }

// Unresolved returns the params still missing a value.
func (p SecretParams) Unresolved() SecretParams {
	var out SecretParams
	for _, s := range p {
		if s.IsUnresolved() {
			out = append(out, s)
		}
	}
	return out
}

// GroupByConfigID groups params by secret config id, keeping order.
func (p SecretParams) GroupByConfigID() map[string]SecretParams {
	out := map[string]SecretParams{}
	for _, s := range p {
		out[s.ConfigID] = append(out[s.ConfigID], s)
	}
	return out
}

// Substitute replaces resolved placeholders in v.
func (p SecretParams) Substitute(v string) string {
	for _, s := range p {
		if !s.IsUnresolved() {
			v = strings.ReplaceAll(v, s.Placeholder(), s.Value())
		}
	}
	return v
}

// Clone deep-copies the params.
func (p SecretParams) Clone() SecretParams {
	if p == nil {
		return nil
	}
	out := make(SecretParams, len(p))
	for i, s := range p {
		cp := *s
		out[i] = &cp
	}
	return out
}

// SecretResolver fills in the values of secret params from an external
// secret store.
type SecretResolver interface {
	Resolve(ctx context.Context, params SecretParams) error
}
