package metadata

import (
	"context"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension/artifact"
	"github.com/rzbill/cruise/pkg/plugin/extension/authorization"
	"github.com/rzbill/cruise/pkg/plugin/extension/packagematerial"
	"github.com/rzbill/cruise/pkg/plugin/extension/scm"
)

// LoaderOption configures a loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	logger log.Logger
}

// WithLogger sets the loader's logger.
func WithLogger(logger log.Logger) LoaderOption {
	return func(o *loaderOptions) {
		o.logger = logger
	}
}

func newLoaderOptions(component string, opts []LoaderOption) loaderOptions {
	o := loaderOptions{logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithComponent(component)
	return o
}

func fetchSettings(ctx context.Context, pluginID string,
	schema func(context.Context, string) (configuration.Schema, error),
	view func(context.Context, string) (string, error)) (*ConfigSettings, error) {
	s, err := schema(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	v, err := view(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	return &ConfigSettings{Schema: s, View: v}, nil
}

// SCMLoader fills an SCMStore as SCM plugins load.
type SCMLoader struct {
	ext   *scm.Extension
	store *SCMStore
	loaderOptions
}

// NewSCMLoader returns a loader for ext.
func NewSCMLoader(ext *scm.Extension, store *SCMStore, opts ...LoaderOption) *SCMLoader {
	return &SCMLoader{ext: ext, store: store, loaderOptions: newLoaderOptions("scm-metadata-loader", opts)}
}

// PluginLoaded implements plugin.Listener.
func (l *SCMLoader) PluginLoaded(ctx context.Context, d plugin.Descriptor) {
	if !l.ext.CanHandlePlugin(d.ID) {
		return
	}
	schema, err := l.ext.Configuration(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch SCM configuration", log.Plugin(d.ID), log.Err(err))
		return
	}
	view, err := l.ext.View(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch SCM view", log.Plugin(d.ID), log.Err(err))
		return
	}
	l.store.AddMetadataFor(d.ID, SCMMetadata{Configuration: schema, View: view})
}

// PluginUnloaded implements plugin.Listener.
func (l *SCMLoader) PluginUnloaded(_ context.Context, d plugin.Descriptor) {
	l.store.RemoveMetadataFor(d.ID)
}

// PackageLoader fills a PackageStore as package repository plugins load.
type PackageLoader struct {
	ext   *packagematerial.Extension
	store *PackageStore
	loaderOptions
}

// NewPackageLoader returns a loader for ext.
func NewPackageLoader(ext *packagematerial.Extension, store *PackageStore, opts ...LoaderOption) *PackageLoader {
	return &PackageLoader{ext: ext, store: store, loaderOptions: newLoaderOptions("package-metadata-loader", opts)}
}

// PluginLoaded implements plugin.Listener.
func (l *PackageLoader) PluginLoaded(ctx context.Context, d plugin.Descriptor) {
	if !l.ext.CanHandlePlugin(d.ID) {
		return
	}
	repo, err := l.ext.RepositoryConfiguration(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch repository configuration", log.Plugin(d.ID), log.Err(err))
		return
	}
	pkg, err := l.ext.PackageConfiguration(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch package configuration", log.Plugin(d.ID), log.Err(err))
		return
	}
	l.store.AddMetadataFor(d.ID, PackageMetadata{Repository: repo, Package: pkg})
}

// PluginUnloaded implements plugin.Listener.
func (l *PackageLoader) PluginUnloaded(_ context.Context, d plugin.Descriptor) {
	l.store.RemoveMetadataFor(d.ID)
}

// AuthorizationLoader fills an AuthorizationStore as authorization plugins
// load. Every query is tried on its own; the entry is stored only when the
// capabilities and the auth config settings arrived, plus the role config
// settings when the plugin can authorize.
type AuthorizationLoader struct {
	ext   *authorization.Extension
	store *AuthorizationStore
	loaderOptions
}

// NewAuthorizationLoader returns a loader for ext.
func NewAuthorizationLoader(ext *authorization.Extension, store *AuthorizationStore, opts ...LoaderOption) *AuthorizationLoader {
	return &AuthorizationLoader{ext: ext, store: store, loaderOptions: newLoaderOptions("authorization-metadata-loader", opts)}
}

// PluginLoaded implements plugin.Listener.
func (l *AuthorizationLoader) PluginLoaded(ctx context.Context, d plugin.Descriptor) {
	if !l.ext.CanHandlePlugin(d.ID) {
		return
	}
	md := AuthorizationMetadata{}

	icon, err := l.ext.Icon(ctx, d.ID)
	if err != nil {
		l.logger.Warn("Failed to fetch plugin icon", log.Plugin(d.ID), log.Err(err))
	} else {
		md.Icon = icon
	}

	caps, err := l.ext.Capabilities(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch capabilities", log.Plugin(d.ID), log.Err(err))
	} else {
		md.Capabilities = caps
	}

	auth, err := fetchSettings(ctx, d.ID, l.ext.AuthConfigMetadata, l.ext.AuthConfigView)
	if err != nil {
		l.logger.Error("Failed to fetch auth config settings", log.Plugin(d.ID), log.Err(err))
	} else {
		md.AuthConfig = auth
	}

	if caps != nil && caps.CanAuthorize {
		role, err := fetchSettings(ctx, d.ID, l.ext.RoleConfigMetadata, l.ext.RoleConfigView)
		if err != nil {
			l.logger.Error("Failed to fetch role config settings", log.Plugin(d.ID), log.Err(err))
		} else {
			md.RoleConfig = role
		}
	}

	if md.Capabilities == nil || md.AuthConfig == nil || (md.Capabilities.CanAuthorize && md.RoleConfig == nil) {
		l.logger.Warn("Skipping incomplete authorization metadata", log.Plugin(d.ID))
		return
	}
	l.store.AddMetadataFor(d.ID, md)
}

// PluginUnloaded implements plugin.Listener.
func (l *AuthorizationLoader) PluginUnloaded(_ context.Context, d plugin.Descriptor) {
	l.store.RemoveMetadataFor(d.ID)
}

// ArtifactLoader fills an ArtifactStore as artifact plugins load. Partial
// answers are discarded.
type ArtifactLoader struct {
	ext   *artifact.Extension
	store *ArtifactStore
	loaderOptions
}

// NewArtifactLoader returns a loader for ext.
func NewArtifactLoader(ext *artifact.Extension, store *ArtifactStore, opts ...LoaderOption) *ArtifactLoader {
	return &ArtifactLoader{ext: ext, store: store, loaderOptions: newLoaderOptions("artifact-metadata-loader", opts)}
}

// PluginLoaded implements plugin.Listener.
func (l *ArtifactLoader) PluginLoaded(ctx context.Context, d plugin.Descriptor) {
	if !l.ext.CanHandlePlugin(d.ID) {
		return
	}
	md, err := l.fetch(ctx, d.ID)
	if err != nil {
		l.logger.Error("Failed to fetch artifact plugin metadata", log.Plugin(d.ID), log.Err(err))
		return
	}
	l.store.AddMetadataFor(d.ID, *md)
}

func (l *ArtifactLoader) fetch(ctx context.Context, pluginID string) (*ArtifactMetadata, error) {
	md := &ArtifactMetadata{}
	var err error
	if md.Capabilities, err = l.ext.Capabilities(ctx, pluginID); err != nil {
		return nil, err
	}
	if md.Store, err = fetchSettings(ctx, pluginID, l.ext.StoreConfigMetadata, l.ext.StoreConfigView); err != nil {
		return nil, err
	}
	if md.Publish, err = fetchSettings(ctx, pluginID, l.ext.PublishConfigMetadata, l.ext.PublishConfigView); err != nil {
		return nil, err
	}
	if md.Fetch, err = fetchSettings(ctx, pluginID, l.ext.FetchConfigMetadata, l.ext.FetchConfigView); err != nil {
		return nil, err
	}
	// The icon is optional.
	if icon, err := l.ext.Icon(ctx, pluginID); err == nil {
		md.Icon = icon
	}
	return md, nil
}

// PluginUnloaded implements plugin.Listener.
func (l *ArtifactLoader) PluginUnloaded(_ context.Context, d plugin.Descriptor) {
	l.store.RemoveMetadataFor(d.ID)
}
