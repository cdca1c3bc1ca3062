package metadata

import (
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension/artifact"
	"github.com/rzbill/cruise/pkg/plugin/extension/authorization"
	"github.com/rzbill/cruise/pkg/plugin/extension/scm"
)

// ConfigSettings is a schema and the form that edits it.
type ConfigSettings struct {
	Schema configuration.Schema
	View   string
}

// SCMMetadata is what an SCM plugin declared.
type SCMMetadata struct {
	Configuration configuration.Schema
	View          *scm.View
}

// SCMStore caches SCM plugin metadata.
type SCMStore struct {
	*Store[SCMMetadata]
}

// NewSCMStore returns an empty store.
func NewSCMStore() *SCMStore {
	return &SCMStore{Store: NewStore[SCMMetadata]()}
}

// SchemaFor implements configuration.SchemaSource.
func (s *SCMStore) SchemaFor(pluginID string) (configuration.Schema, bool) {
	m, ok := s.MetadataFor(pluginID)
	if !ok {
		return nil, false
	}
	return m.Configuration, true
}

// PackageMetadata is what a package repository plugin declared.
type PackageMetadata struct {
	Repository configuration.Schema
	Package    configuration.Schema
}

// PackageStore caches package repository plugin metadata.
type PackageStore struct {
	*Store[PackageMetadata]
}

// NewPackageStore returns an empty store.
func NewPackageStore() *PackageStore {
	return &PackageStore{Store: NewStore[PackageMetadata]()}
}

// RepositorySchema implements packages.MetadataSource.
func (s *PackageStore) RepositorySchema(pluginID string) (configuration.Schema, bool) {
	m, ok := s.MetadataFor(pluginID)
	if !ok {
		return nil, false
	}
	return m.Repository, true
}

// PackageSchema implements packages.MetadataSource.
func (s *PackageStore) PackageSchema(pluginID string) (configuration.Schema, bool) {
	m, ok := s.MetadataFor(pluginID)
	if !ok {
		return nil, false
	}
	return m.Package, true
}

// AuthorizationMetadata is what an authorization plugin declared. RoleConfig
// is nil unless the plugin can authorize.
type AuthorizationMetadata struct {
	Icon         *plugin.Image
	Capabilities *authorization.Capabilities
	AuthConfig   *ConfigSettings
	RoleConfig   *ConfigSettings
}

// AuthorizationStore caches authorization plugin metadata.
type AuthorizationStore struct {
	*Store[AuthorizationMetadata]
}

// NewAuthorizationStore returns an empty store.
func NewAuthorizationStore() *AuthorizationStore {
	return &AuthorizationStore{Store: NewStore[AuthorizationMetadata]()}
}

// CanSearch reports whether pluginID is loaded and can search users.
func (s *AuthorizationStore) CanSearch(pluginID string) bool {
	m, ok := s.MetadataFor(pluginID)
	return ok && m.Capabilities.CanSearch
}

// PluginsSupporting returns the ids of loaded plugins using authType.
func (s *AuthorizationStore) PluginsSupporting(authType authorization.SupportedAuthType) []string {
	var out []string
	for _, id := range s.PluginIDs() {
		if m, ok := s.MetadataFor(id); ok && m.Capabilities.SupportedAuthType == authType {
			out = append(out, id)
		}
	}
	return out
}

// ArtifactMetadata is what an artifact plugin declared.
type ArtifactMetadata struct {
	Icon         *plugin.Image
	Capabilities *artifact.Capabilities
	Store        *ConfigSettings
	Publish      *ConfigSettings
	Fetch        *ConfigSettings
}

// ArtifactStore caches artifact plugin metadata.
type ArtifactStore struct {
	*Store[ArtifactMetadata]
}

// NewArtifactStore returns an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{Store: NewStore[ArtifactMetadata]()}
}
