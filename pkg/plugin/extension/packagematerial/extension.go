package packagematerial

import (
	"context"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

// Request names.
const (
	RequestRepositoryConfiguration         = "repository-configuration"
	RequestPackageConfiguration            = "package-configuration"
	RequestValidateRepositoryConfiguration = "validate-repository-configuration"
	RequestValidatePackageConfiguration    = "validate-package-configuration"
	RequestCheckRepositoryConnection       = "check-repository-connection"
	RequestCheckPackageConnection          = "check-package-connection"
	RequestLatestRevision                  = "latest-revision"
	RequestLatestRevisionSince             = "latest-revision-since"
)

// Extension is the package repository extension.
type Extension struct {
	extension.Base[Converter]
}

// New returns the extension speaking protocol 1.0.
func New(manager extension.PluginManager) *Extension {
	e := &Extension{Base: extension.NewBase[Converter](manager, plugin.PackageMaterialExtension, map[string]Converter{
		"1.0": ConverterV1{},
	})}
	e.WithPluginSettings(extension.SettingsVersions("1.0"))
	return e
}

// RepositoryConfiguration asks the plugin for its repository schema.
func (e *Extension) RepositoryConfiguration(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestRepositoryConfiguration, nil, Converter.RepositoryConfigurationFromResponse)
}

// PackageConfiguration asks the plugin for its package schema.
func (e *Extension) PackageConfiguration(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestPackageConfiguration, nil, Converter.PackageConfigurationFromResponse)
}

// IsRepositoryConfigurationValid asks the plugin to validate repo.
func (e *Extension) IsRepositoryConfigurationValid(ctx context.Context, pluginID string, repo extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestValidateRepositoryConfiguration,
		func(c Converter) (string, error) { return c.RepositoryRequest(repo) },
		Converter.ValidationFromResponse)
}

// IsPackageConfigurationValid asks the plugin to validate pkg within repo.
func (e *Extension) IsPackageConfigurationValid(ctx context.Context, pluginID string, pkg, repo extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestValidatePackageConfiguration,
		func(c Converter) (string, error) { return c.PackageRequest(pkg, repo) },
		Converter.ValidationFromResponse)
}

// CheckConnectionToRepository asks the plugin to reach repo.
func (e *Extension) CheckConnectionToRepository(ctx context.Context, pluginID string, repo extension.ConfigValues) (*plugin.Result, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestCheckRepositoryConnection,
		func(c Converter) (string, error) { return c.RepositoryRequest(repo) },
		Converter.CheckConnectionFromResponse)
}

// CheckConnectionToPackage asks the plugin to reach pkg.
func (e *Extension) CheckConnectionToPackage(ctx context.Context, pluginID string, pkg, repo extension.ConfigValues) (*plugin.Result, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestCheckPackageConnection,
		func(c Converter) (string, error) { return c.PackageRequest(pkg, repo) },
		Converter.CheckConnectionFromResponse)
}

// LatestRevision returns the newest revision of pkg.
func (e *Extension) LatestRevision(ctx context.Context, pluginID string, pkg, repo extension.ConfigValues) (*PackageRevision, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestLatestRevision,
		func(c Converter) (string, error) { return c.PackageRequest(pkg, repo) },
		Converter.LatestRevisionFromResponse)
}

// LatestRevisionSince returns the newest revision after previous, or nil
// when there is none.
func (e *Extension) LatestRevisionSince(ctx context.Context, pluginID string, pkg, repo extension.ConfigValues, previous *PackageRevision) (*PackageRevision, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestLatestRevisionSince,
		func(c Converter) (string, error) { return c.LatestRevisionSinceRequest(pkg, repo, previous) },
		Converter.LatestRevisionSinceFromResponse)
}
