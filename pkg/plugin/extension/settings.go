package extension

import (
	"context"
	"fmt"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
)

// Plugin settings request names.
const (
	RequestPluginSettingsConfiguration = "go.plugin-settings.get-configuration"
	RequestPluginSettingsView          = "go.plugin-settings.get-view"
	RequestValidatePluginSettings      = "go.plugin-settings.validate-configuration"
	RequestPluginSettingsChanged       = "go.plugin-settings.plugin-settings-changed"
)

// SettingsConverter speaks one version of the plugin-settings messages.
type SettingsConverter interface {
	ConfigurationFromResponse(body string) (configuration.Schema, error)
	ViewFromResponse(body string) (string, error)
	ValidateRequest(values ConfigValues) (string, error)
	ValidationFromResponse(body string) (*plugin.ValidationResult, error)
	ChangedRequest(values ConfigValues) (string, error)
}

// SettingsConverterV1 is the plugin-settings message format shared by every
// extension version.
type SettingsConverterV1 struct{}

// ConfigurationFromResponse implements SettingsConverter.
func (SettingsConverterV1) ConfigurationFromResponse(body string) (configuration.Schema, error) {
	return DecodeMetadataMap(body, "Plugin settings configuration", MetadataDefaults{DisplayNameFromKey: true})
}

// ViewFromResponse implements SettingsConverter.
func (SettingsConverterV1) ViewFromResponse(body string) (string, error) {
	return DecodeTemplate(body, "Plugin settings view")
}

// ValidateRequest implements SettingsConverter.
func (SettingsConverterV1) ValidateRequest(values ConfigValues) (string, error) {
	return Encode(values.Keyed())
}

// ValidationFromResponse implements SettingsConverter.
func (SettingsConverterV1) ValidationFromResponse(body string) (*plugin.ValidationResult, error) {
	return DecodeValidationResult(body)
}

// ChangedRequest implements SettingsConverter.
func (SettingsConverterV1) ChangedRequest(values ConfigValues) (string, error) {
	return Encode(values.Flat())
}

// SettingsVersions maps every given version to SettingsConverterV1.
func SettingsVersions(versions ...string) map[string]SettingsConverter {
	out := make(map[string]SettingsConverter, len(versions))
	for _, v := range versions {
		out[v] = SettingsConverterV1{}
	}
	return out
}

// SupportsPluginSettings reports whether the extension has settings calls.
func (b *Base[C]) SupportsPluginSettings() bool {
	return len(b.settings) > 0
}

func (b *Base[C]) settingsConverter(version string) (SettingsConverter, error) {
	c, ok := b.settings[version]
	if !ok {
		return nil, fmt.Errorf("plugin settings are not supported by the '%s' extension at version %s", b.name, version)
	}
	return c, nil
}

// PluginSettingsConfiguration asks the plugin for its settings schema.
func (b *Base[C]) PluginSettingsConfiguration(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return SubmitBody(ctx, b.helper, pluginID, RequestPluginSettingsConfiguration, nil,
		func(version, body string) (configuration.Schema, error) {
			c, err := b.settingsConverter(version)
			if err != nil {
				return nil, err
			}
			return c.ConfigurationFromResponse(body)
		})
}

// PluginSettingsView asks the plugin for its settings template.
func (b *Base[C]) PluginSettingsView(ctx context.Context, pluginID string) (string, error) {
	return SubmitBody(ctx, b.helper, pluginID, RequestPluginSettingsView, nil,
		func(version, body string) (string, error) {
			c, err := b.settingsConverter(version)
			if err != nil {
				return "", err
			}
			return c.ViewFromResponse(body)
		})
}

// ValidatePluginSettings asks the plugin to validate settings values.
func (b *Base[C]) ValidatePluginSettings(ctx context.Context, pluginID string, values ConfigValues) (*plugin.ValidationResult, error) {
	return SubmitBody(ctx, b.helper, pluginID, RequestValidatePluginSettings,
		func(version string) (string, error) {
			c, err := b.settingsConverter(version)
			if err != nil {
				return "", err
			}
			return c.ValidateRequest(values)
		},
		func(version, body string) (*plugin.ValidationResult, error) {
			c, err := b.settingsConverter(version)
			if err != nil {
				return nil, err
			}
			return c.ValidationFromResponse(body)
		})
}

// NotifyPluginSettingsChange tells the plugin its settings were saved.
func (b *Base[C]) NotifyPluginSettingsChange(ctx context.Context, pluginID string, values ConfigValues) error {
	_, err := Submit(ctx, b.helper, pluginID, Call[struct{}]{
		Name: RequestPluginSettingsChanged,
		Body: func(version string) (string, error) {
			c, err := b.settingsConverter(version)
			if err != nil {
				return "", err
			}
			return c.ChangedRequest(values)
		},
	})
	return err
}
