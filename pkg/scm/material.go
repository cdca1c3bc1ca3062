package scm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
)

// PluggableSCMMaterialConfig is a pipeline material backed by an SCM.
type PluggableSCMMaterialConfig struct {
	Name   string
	SCMID  string
	SCM    *SCM
	Folder string
	Filter []string
}

// NewPluggableSCMMaterialConfig references s from a pipeline.
func NewPluggableSCMMaterialConfig(name string, s *SCM, folder string, filter []string) *PluggableSCMMaterialConfig {
	m := &PluggableSCMMaterialConfig{Name: name, SCM: s, Folder: folder, Filter: filter}
	if s != nil {
		m.SCMID = s.ID
	}
	return m
}

// DisplayName is the material name, falling back to the SCM name.
func (m *PluggableSCMMaterialConfig) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	if m.SCM != nil {
		return m.SCM.Name
	}
	return ""
}

// Fingerprint delegates to the referenced SCM.
func (m *PluggableSCMMaterialConfig) Fingerprint(schemas configuration.SchemaSource, cipher crypto.Cipher) (string, error) {
	if m.SCM == nil {
		return "", fmt.Errorf("material %q does not reference an SCM", m.DisplayName())
	}
	return m.SCM.Fingerprint(schemas, cipher)
}

// ResolveSCM binds the material to the SCM with its id from scms.
func (m *PluggableSCMMaterialConfig) ResolveSCM(scms SCMs) error {
	found := scms.Find(m.SCMID)
	if found == nil {
		return fmt.Errorf("Failed to find referenced scm '%s'", m.SCMID)
	}
	m.SCM = found
	return nil
}

// EnvVar is one variable exported to jobs using the material.
type EnvVar struct {
	Name   string
	Value  string
	Secure bool
}

var nonEnvChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

func envName(parts ...string) string {
	return strings.ToUpper(nonEnvChars.ReplaceAllString(strings.Join(parts, "_"), "_"))
}

// EnvironmentVariables returns GO_SCM_<MATERIAL>_<KEY> for each property plus
// GO_SCM_<MATERIAL>_LABEL for the revision.
func (m *PluggableSCMMaterialConfig) EnvironmentVariables(revision string, cipher crypto.Cipher) ([]EnvVar, error) {
	name := m.DisplayName()
	var vars []EnvVar
	if m.SCM != nil {
		for _, p := range m.SCM.Configuration {
			v, err := p.Value(cipher)
			if err != nil {
				return nil, err
			}
			vars = append(vars, EnvVar{Name: envName("GO_SCM", name, p.Key()), Value: v, Secure: p.IsSecure()})
		}
	}
	vars = append(vars, EnvVar{Name: envName("GO_SCM", name, "LABEL"), Value: revision})
	return vars, nil
}

type persistedValue struct {
	Value string `json:"value"`
}

type persistedKey struct {
	Name string `json:"name"`
}

type persistedProperty struct {
	ConfigKey            persistedKey    `json:"configKey"`
	ConfigValue          *persistedValue `json:"configValue,omitempty"`
	EncryptedConfigValue *persistedValue `json:"encryptedConfigValue,omitempty"`
}

type persistedSCM struct {
	Plugin configuration.PluginConfiguration `json:"plugin"`
	Config []persistedProperty               `json:"config"`
}

type persistedMaterial struct {
	SCM persistedSCM `json:"scm"`
}

// MarshalJSON renders the form stored with material instances:
// {"scm":{"plugin":{...},"config":[...]}}. Secure values stay encrypted.
func (m *PluggableSCMMaterialConfig) MarshalJSON() ([]byte, error) {
	if m.SCM == nil {
		return nil, fmt.Errorf("material %q does not reference an SCM", m.DisplayName())
	}
	out := persistedMaterial{SCM: persistedSCM{
		Plugin: m.SCM.PluginConfiguration,
		Config: make([]persistedProperty, 0, len(m.SCM.Configuration)),
	}}
	for _, p := range m.SCM.Configuration {
		pp := persistedProperty{ConfigKey: persistedKey{Name: p.Key()}}
		if p.IsSecure() {
			pp.EncryptedConfigValue = &persistedValue{Value: p.EncryptedValue()}
		} else {
			pp.ConfigValue = &persistedValue{Value: p.PlainValue()}
		}
		out.SCM.Config = append(out.SCM.Config, pp)
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a material from its stored form.
func (m *PluggableSCMMaterialConfig) UnmarshalJSON(data []byte) error {
	var in persistedMaterial
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg := make(configuration.Configuration, 0, len(in.SCM.Config))
	for _, pp := range in.SCM.Config {
		switch {
		case pp.EncryptedConfigValue != nil:
			cfg = append(cfg, configuration.NewSecureProperty(pp.ConfigKey.Name, pp.EncryptedConfigValue.Value))
		case pp.ConfigValue != nil:
			cfg = append(cfg, configuration.NewProperty(pp.ConfigKey.Name, pp.ConfigValue.Value))
		default:
			cfg = append(cfg, configuration.NewProperty(pp.ConfigKey.Name, ""))
		}
	}
	m.SCM = &SCM{AutoUpdate: true, PluginConfiguration: in.SCM.Plugin, Configuration: cfg}
	return nil
}
