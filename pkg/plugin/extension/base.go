// Package extension contains what every plugin extension shares: version
// negotiation, the request helper and the JSON helpers used by the per-version
// message converters.
package extension

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rzbill/cruise/pkg/plugin"
)

// PluginManager is the part of plugin.Manager extensions depend on.
type PluginManager interface {
	ResolveExtensionVersion(pluginID, extension string, serverVersions []string) (string, error)
	Submit(ctx context.Context, pluginID string, req *plugin.Request) (*plugin.Response, error)
	IsPluginOfType(extension, pluginID string) bool
}

// Base holds the converters of one extension keyed by protocol version.
type Base[C any] struct {
	name       string
	manager    PluginManager
	converters map[string]C
	versions   []string
	helper     *RequestHelper

	settings map[string]SettingsConverter
}

// NewBase returns a Base for the extension name. converters lists every
// protocol version the server speaks.
func NewBase[C any](manager PluginManager, name string, converters map[string]C) Base[C] {
	versions := make([]string, 0, len(converters))
	for v := range converters {
		versions = append(versions, v)
	}
	sortVersions(versions)
	return Base[C]{
		name:       name,
		manager:    manager,
		converters: converters,
		versions:   versions,
		helper:     NewRequestHelper(manager, name, versions),
	}
}

// WithPluginSettings enables the plugin-settings calls for the given
// versions.
func (b *Base[C]) WithPluginSettings(converters map[string]SettingsConverter) {
	b.settings = converters
}

// Name returns the extension name.
func (b *Base[C]) Name() string { return b.name }

// SupportedVersions returns the versions the server speaks, lowest first.
func (b *Base[C]) SupportedVersions() []string {
	return append([]string(nil), b.versions...)
}

// CanHandlePlugin reports whether pluginID implements this extension.
func (b *Base[C]) CanHandlePlugin(pluginID string) bool {
	return b.manager.IsPluginOfType(b.name, pluginID)
}

// Helper returns the request helper for this extension.
func (b *Base[C]) Helper() *RequestHelper { return b.helper }

// Converter returns the converter for the negotiated version of pluginID.
func (b *Base[C]) Converter(pluginID string) (string, C, error) {
	var zero C
	version, err := b.manager.ResolveExtensionVersion(pluginID, b.name, b.versions)
	if err != nil {
		return "", zero, err
	}
	c, err := b.ConverterFor(version)
	if err != nil {
		return "", zero, err
	}
	return version, c, nil
}

func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, errA := semver.NewVersion(versions[i])
		b, errB := semver.NewVersion(versions[j])
		if errA != nil || errB != nil {
			return versions[i] < versions[j]
		}
		return a.LessThan(b)
	})
}

// ConverterFor returns the converter of a negotiated version.
func (b *Base[C]) ConverterFor(version string) (C, error) {
	c, ok := b.converters[version]
	if !ok {
		var zero C
		return zero, fmt.Errorf("no %s converter for version %s", b.name, version)
	}
	return c, nil
}

// Invoke submits the call name to pluginID. The request body and the
// decoder come from the converter of the negotiated version; a nil body
// sends no request body.
func Invoke[C, T any](ctx context.Context, b *Base[C], pluginID, name string,
	body func(C) (string, error), decode func(C, string) (T, error)) (T, error) {
	var build func(string) (string, error)
	if body != nil {
		build = func(version string) (string, error) {
			c, err := b.ConverterFor(version)
			if err != nil {
				return "", err
			}
			return body(c)
		}
	}
	return SubmitBody(ctx, b.helper, pluginID, name, build, func(version, resp string) (T, error) {
		c, err := b.ConverterFor(version)
		if err != nil {
			var zero T
			return zero, err
		}
		return decode(c, resp)
	})
}
