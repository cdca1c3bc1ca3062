package artifact

import (
	"context"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

const requestPrefix = "cd.go.artifact."

// Request names.
const (
	RequestStoreConfigMetadata   = requestPrefix + "store.get-metadata"
	RequestStoreConfigView       = requestPrefix + "store.get-view"
	RequestValidateStoreConfig   = requestPrefix + "store.validate"
	RequestPublishConfigMetadata = requestPrefix + "publish.get-metadata"
	RequestPublishConfigView     = requestPrefix + "publish.get-view"
	RequestValidatePublishConfig = requestPrefix + "publish.validate"
	RequestFetchConfigMetadata   = requestPrefix + "fetch.get-metadata"
	RequestFetchConfigView       = requestPrefix + "fetch.get-view"
	RequestValidateFetchConfig   = requestPrefix + "fetch.validate"
	RequestPublishArtifact       = requestPrefix + "publish-artifact"
	RequestFetchArtifact         = requestPrefix + "fetch-artifact"
	RequestGetPluginIcon         = requestPrefix + "get-plugin-icon"
	RequestGetCapabilities       = requestPrefix + "get-capabilities"
)

// Extension is the artifact extension.
type Extension struct {
	extension.Base[Converter]
}

// New returns the extension speaking protocols 1.0 and 2.0.
func New(manager extension.PluginManager) *Extension {
	return &Extension{Base: extension.NewBase[Converter](manager, plugin.ArtifactExtension, map[string]Converter{
		"1.0": ConverterV1{},
		"2.0": ConverterV2{},
	})}
}

// Capabilities asks the plugin what it supports.
func (e *Extension) Capabilities(ctx context.Context, pluginID string) (*Capabilities, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetCapabilities, nil, Converter.CapabilitiesFromResponse)
}

// StoreConfigMetadata asks for the artifact store schema.
func (e *Extension) StoreConfigMetadata(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestStoreConfigMetadata, nil, Converter.MetadataFromResponse)
}

// StoreConfigView asks for the artifact store form template.
func (e *Extension) StoreConfigView(ctx context.Context, pluginID string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestStoreConfigView, nil, Converter.StoreViewFromResponse)
}

// ValidateStoreConfig asks the plugin to validate an artifact store.
func (e *Extension) ValidateStoreConfig(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return e.validate(ctx, pluginID, RequestValidateStoreConfig, values)
}

// PublishConfigMetadata asks for the publish configuration schema.
func (e *Extension) PublishConfigMetadata(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestPublishConfigMetadata, nil, Converter.MetadataFromResponse)
}

// PublishConfigView asks for the publish configuration form template.
func (e *Extension) PublishConfigView(ctx context.Context, pluginID string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestPublishConfigView, nil, Converter.PublishViewFromResponse)
}

// ValidatePublishConfig asks the plugin to validate a publish configuration.
func (e *Extension) ValidatePublishConfig(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return e.validate(ctx, pluginID, RequestValidatePublishConfig, values)
}

// FetchConfigMetadata asks for the fetch configuration schema.
func (e *Extension) FetchConfigMetadata(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestFetchConfigMetadata, nil, Converter.MetadataFromResponse)
}

// FetchConfigView asks for the fetch configuration form template.
func (e *Extension) FetchConfigView(ctx context.Context, pluginID string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestFetchConfigView, nil, Converter.FetchViewFromResponse)
}

// ValidateFetchConfig asks the plugin to validate a fetch configuration.
func (e *Extension) ValidateFetchConfig(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return e.validate(ctx, pluginID, RequestValidateFetchConfig, values)
}

func (e *Extension) validate(ctx context.Context, pluginID, name string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, name,
		func(c Converter) (string, error) { return c.ValidateRequest(values) },
		Converter.ValidationFromResponse)
}

// PublishArtifacts publishes plans to store. Depending on the negotiated
// version the plans go out in one call or one call each; the metadata of
// every call is merged.
func (e *Extension) PublishArtifacts(ctx context.Context, pluginID string, store Store, plans []Plan, workDir string, env map[string]string) (PublishMetadata, error) {
	if !e.CanHandlePlugin(pluginID) {
		return nil, &plugin.MissingExtensionError{Extension: e.Name(), PluginID: pluginID}
	}
	_, c, err := e.Converter(pluginID)
	if err != nil {
		return nil, &plugin.CommunicationError{PluginID: pluginID, Extension: e.Name(), Request: RequestPublishArtifact, Err: err}
	}

	out := make(PublishMetadata, len(plans))
	for _, batch := range c.PublishBatches(plans) {
		md, err := extension.Invoke(ctx, &e.Base, pluginID, RequestPublishArtifact,
			func(c Converter) (string, error) { return c.PublishRequest(store, batch, workDir, env) },
			func(c Converter, body string) (PublishMetadata, error) { return c.PublishFromResponse(body, batch) })
		if err != nil {
			return nil, err
		}
		for id, m := range md {
			out[id] = m
		}
	}
	return out, nil
}

// FetchArtifact asks the plugin to fetch a published artifact into workDir.
// metadata is what the plugin returned when the artifact was published.
func (e *Extension) FetchArtifact(ctx context.Context, pluginID string, store Store, fetch extension.ConfigValues, metadata map[string]any, workDir string) ([]EnvironmentVariable, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestFetchArtifact,
		func(c Converter) (string, error) { return c.FetchRequest(store, fetch, metadata, workDir) },
		Converter.FetchFromResponse)
}

// Icon asks the plugin for its icon.
func (e *Extension) Icon(ctx context.Context, pluginID string) (*plugin.Image, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetPluginIcon, nil, Converter.ImageFromResponse)
}
