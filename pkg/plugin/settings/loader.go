// Package settings manages plugin settings: the schema and view a plugin
// declares for its global settings, and the values an administrator saved.
package settings

import (
	"context"
	"fmt"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/rzbill/cruise/pkg/plugin/metadata"
)

// Extension is an extension that may carry the plugin-settings calls.
type Extension interface {
	Name() string
	CanHandlePlugin(pluginID string) bool
	SupportsPluginSettings() bool
	PluginSettingsConfiguration(ctx context.Context, pluginID string) (configuration.Schema, error)
	PluginSettingsView(ctx context.Context, pluginID string) (string, error)
	ValidatePluginSettings(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error)
	NotifyPluginSettingsChange(ctx context.Context, pluginID string, values extension.ConfigValues) error
}

// Metadata is the settings schema and view of one plugin and the extension
// that answered for it.
type Metadata struct {
	Extension     string
	Configuration configuration.Schema
	View          string
}

// MetadataStore caches settings metadata by plugin id.
type MetadataStore struct {
	*metadata.Store[Metadata]
}

// NewMetadataStore returns an empty store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{Store: metadata.NewStore[Metadata]()}
}

// SchemaFor implements configuration.SchemaSource.
func (s *MetadataStore) SchemaFor(pluginID string) (configuration.Schema, bool) {
	m, ok := s.MetadataFor(pluginID)
	if !ok {
		return nil, false
	}
	return m.Configuration, true
}

// ConflictError is returned when more than one extension of a plugin
// answers the plugin-settings calls.
type ConflictError struct {
	PluginID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Plugin with ID: %s has more than one extension which supports plugin settings. "+
		"Only one extension should support it and respond to %s and %s.",
		e.PluginID, extension.RequestPluginSettingsConfiguration, extension.RequestPluginSettingsView)
}

// MetadataLoader asks every settings-capable extension of a loading plugin
// for its settings and keeps the single one that answered.
type MetadataLoader struct {
	extensions []Extension
	store      *MetadataStore
	logger     log.Logger
}

// NewMetadataLoader returns a loader over extensions.
func NewMetadataLoader(store *MetadataStore, logger log.Logger, extensions ...Extension) *MetadataLoader {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &MetadataLoader{
		extensions: extensions,
		store:      store,
		logger:     logger.WithComponent("plugin-settings-loader"),
	}
}

// Load fetches the settings metadata of pluginID. An extension that fails
// is skipped; two that succeed are a ConflictError and nothing is stored.
func (l *MetadataLoader) Load(ctx context.Context, pluginID string) error {
	var found *Metadata
	for _, ext := range l.extensions {
		if !ext.SupportsPluginSettings() || !ext.CanHandlePlugin(pluginID) {
			continue
		}
		schema, err := ext.PluginSettingsConfiguration(ctx, pluginID)
		if err != nil {
			l.logger.Warn("Failed to fetch plugin settings configuration",
				log.Plugin(pluginID), log.Extension(ext.Name()), log.Err(err))
			continue
		}
		view, err := ext.PluginSettingsView(ctx, pluginID)
		if err != nil {
			l.logger.Warn("Failed to fetch plugin settings view",
				log.Plugin(pluginID), log.Extension(ext.Name()), log.Err(err))
			continue
		}
		if found != nil {
			return &ConflictError{PluginID: pluginID}
		}
		found = &Metadata{Extension: ext.Name(), Configuration: schema, View: view}
	}
	if found != nil {
		l.store.AddMetadataFor(pluginID, *found)
	}
	return nil
}

// PluginLoaded implements plugin.Listener.
func (l *MetadataLoader) PluginLoaded(ctx context.Context, d plugin.Descriptor) {
	if err := l.Load(ctx, d.ID); err != nil {
		l.logger.Error("Failed to load plugin settings metadata", log.Plugin(d.ID), log.Err(err))
	}
}

// PluginUnloaded implements plugin.Listener.
func (l *MetadataLoader) PluginUnloaded(_ context.Context, d plugin.Descriptor) {
	l.store.RemoveMetadataFor(d.ID)
}

// extensionNamed returns the loader's extension called name.
func (l *MetadataLoader) extensionNamed(name string) (Extension, bool) {
	for _, ext := range l.extensions {
		if ext.Name() == name {
			return ext, true
		}
	}
	return nil, false
}
