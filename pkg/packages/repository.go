// Package packages models package repositories and the package definitions
// they contain. Both are configured through a package material plugin.
package packages

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/types"
)

// Error fields.
const (
	FieldID                  = "id"
	FieldName                = "name"
	FieldRepoID              = "repoId"
	FieldPluginConfiguration = "pluginConfiguration"
)

// MetadataSource exposes the schemas a package material plugin declared for
// repositories and for packages.
type MetadataSource interface {
	RepositorySchema(pluginID string) (configuration.Schema, bool)
	PackageSchema(pluginID string) (configuration.Schema, bool)
}

// StaticMetadata is a fixed MetadataSource.
type StaticMetadata struct {
	Repository configuration.StaticSchemas
	Package    configuration.StaticSchemas
}

// RepositorySchema implements MetadataSource.
func (m StaticMetadata) RepositorySchema(pluginID string) (configuration.Schema, bool) {
	return configuration.Lookup(m.Repository, pluginID)
}

// PackageSchema implements MetadataSource.
func (m StaticMetadata) PackageSchema(pluginID string) (configuration.Schema, bool) {
	return configuration.Lookup(m.Package, pluginID)
}

func repositorySchema(meta MetadataSource, pluginID string) (configuration.Schema, bool) {
	if meta == nil {
		return nil, false
	}
	return meta.RepositorySchema(pluginID)
}

func packageSchema(meta MetadataSource, pluginID string) (configuration.Schema, bool) {
	if meta == nil {
		return nil, false
	}
	return meta.PackageSchema(pluginID)
}

// ConfigurationAttribute is one configuration entry submitted from a form.
// For secure keys, Changed tells whether Value holds a new plain text value
// or EncryptedValue must be kept.
type ConfigurationAttribute struct {
	Key            string
	Value          string
	EncryptedValue string
	Secure         bool
	Changed        bool
}

// RepositoryAttributes is the form submitted to create or edit a repository.
type RepositoryAttributes struct {
	Name          string
	RepoID        string
	PluginID      string
	Configuration []ConfigurationAttribute
}

// PackageRepository is a plugin-backed repository holding packages.
type PackageRepository struct {
	ID                  string
	Name                string
	PluginConfiguration configuration.PluginConfiguration
	Configuration       configuration.Configuration
	Packages            Packages

	errors types.ConfigErrors
}

// NewPackageRepository returns a repository with the given identity.
func NewPackageRepository(id, name string, plugin configuration.PluginConfiguration, cfg configuration.Configuration) *PackageRepository {
	return &PackageRepository{ID: id, Name: name, PluginConfiguration: plugin, Configuration: cfg}
}

// EnsureIDExists assigns a random id when none was configured.
func (r *PackageRepository) EnsureIDExists() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// SetRepositoryReferenceOnPackages points every package back at r.
func (r *PackageRepository) SetRepositoryReferenceOnPackages() {
	for _, p := range r.Packages {
		p.repository = r
	}
}

// FinalizeAfterLoad runs once after the repository was decoded: missing ids
// are generated and packages are wired to r.
func (r *PackageRepository) FinalizeAfterLoad() {
	r.EnsureIDExists()
	for _, p := range r.Packages {
		p.EnsureIDExists()
	}
	r.SetRepositoryReferenceOnPackages()
}

// Errors returns the errors recorded on the repository itself.
func (r *PackageRepository) Errors() *types.ConfigErrors { return &r.errors }

// AddError records msg against field.
func (r *PackageRepository) AddError(field, msg string) { r.errors.Add(field, msg) }

// HasErrors reports whether the repository, its properties or its packages
// have errors.
func (r *PackageRepository) HasErrors() bool {
	if !r.errors.IsEmpty() || r.Configuration.HasErrors() {
		return true
	}
	for _, p := range r.Packages {
		if p.HasErrors() {
			return true
		}
	}
	return false
}

// Validate checks the name and configuration keys of the repository.
func (r *PackageRepository) Validate() {
	switch {
	case r.Name == "":
		r.AddError(FieldName, "Please provide name")
	case !types.IsValidName(r.Name):
		r.AddError(FieldName, types.InvalidPackageNameMessage("PackageRepository", r.Name))
	}
	r.Configuration.ValidateUniqueness(fmt.Sprintf("Repository '%s'", r.Name))
}

// ValidateNameUniqueness records r in seen and flags both r and the earlier
// repository when their names collide ignoring case.
func (r *PackageRepository) ValidateNameUniqueness(seen map[string]*PackageRepository) {
	key := strings.ToLower(r.Name)
	other, ok := seen[key]
	if !ok {
		seen[key] = r
		return
	}
	if other == r {
		return
	}
	msg := fmt.Sprintf("You have defined multiple repositories called '%s'. Repository names are case-insensitive and must be unique.", r.Name)
	other.AddError(FieldName, msg)
	r.AddError(FieldName, msg)
}

// ConfigForDisplay renders the identity configuration of the repository.
func (r *PackageRepository) ConfigForDisplay(meta MetadataSource) string {
	schema, found := repositorySchema(meta, r.PluginConfiguration.ID)
	prefix := ""
	if !found {
		prefix = "WARNING! Plugin missing for "
	}
	return prefix + "Repository: " + r.Configuration.ForDisplayWithSchema(schema, found)
}

// ApplyPackagePluginMetadata reclassifies secure values of the repository
// and its packages. Nothing changes for a missing plugin.
func (r *PackageRepository) ApplyPackagePluginMetadata(meta MetadataSource, cipher crypto.Cipher) error {
	pluginID := r.PluginConfiguration.ID
	for _, p := range r.Packages {
		if err := p.ApplyPackagePluginMetadata(meta, pluginID, cipher); err != nil {
			return err
		}
	}
	schema, found := repositorySchema(meta, pluginID)
	if !found {
		return nil
	}
	return r.Configuration.ApplySchema(schema, cipher)
}

// SetConfigAttributes replaces name, id, plugin and configuration from a
// submitted form. Packages are left untouched.
func (r *PackageRepository) SetConfigAttributes(attrs RepositoryAttributes, meta MetadataSource, cipher crypto.Cipher) error {
	r.Name = attrs.Name
	r.ID = attrs.RepoID
	r.PluginConfiguration.ID = attrs.PluginID
	schema, _ := repositorySchema(meta, attrs.PluginID)
	cfg, err := buildConfiguration(attrs.Configuration, schema, cipher)
	if err != nil {
		return err
	}
	r.Configuration = cfg
	return nil
}

func buildConfiguration(attrs []ConfigurationAttribute, schema configuration.Schema, cipher crypto.Cipher) (configuration.Configuration, error) {
	cfg := make(configuration.Configuration, 0, len(attrs))
	for _, a := range attrs {
		secure := a.Secure || schema.IsSecure(a.Key)
		switch {
		case !secure:
			cfg.Add(configuration.NewProperty(a.Key, a.Value))
		case a.Changed:
			p, err := configuration.Create(a.Key, true, a.Value, cipher)
			if err != nil {
				return nil, err
			}
			cfg.Add(p)
		default:
			cfg.Add(configuration.NewSecureProperty(a.Key, a.EncryptedValue))
		}
	}
	return cfg, nil
}

// ClearEmptyConfigurations drops empty properties without errors.
func (r *PackageRepository) ClearEmptyConfigurations() {
	r.Configuration.ClearEmptyConfigurations()
}

// AddPackage appends p and points it at r.
func (r *PackageRepository) AddPackage(p *PackageDefinition) {
	p.repository = r
	r.Packages = append(r.Packages, p)
}

// FindPackage returns the package with id, or nil.
func (r *PackageRepository) FindPackage(id string) *PackageDefinition {
	return r.Packages.Find(id)
}

// RemovePackage drops the package with id.
func (r *PackageRepository) RemovePackage(id string) error {
	for i, p := range r.Packages {
		if p.ID == id {
			r.Packages = append(r.Packages[:i], r.Packages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("Could not find package with id:[%s]", id)
}

// FindOrCreateAttributes selects an existing package by id, or describes a
// new one.
type FindOrCreateAttributes struct {
	PackageID string
	Package   *PackageAttributes
}

// FindOrCreatePackageDefinition returns the package named by attrs.PackageID,
// or a new package built from attrs.Package that references r. The new
// package is not added to r.
func (r *PackageRepository) FindOrCreatePackageDefinition(attrs FindOrCreateAttributes, meta MetadataSource, cipher crypto.Cipher) (*PackageDefinition, error) {
	if attrs.PackageID != "" {
		p := r.FindPackage(attrs.PackageID)
		if p == nil {
			return nil, fmt.Errorf("Could not find package with id:[%s]", attrs.PackageID)
		}
		return p, nil
	}
	if attrs.Package == nil {
		return nil, fmt.Errorf("no package id or package definition given for repository %q", r.Name)
	}
	p := NewPackageDefinition("", "", nil)
	p.repository = r
	if err := p.SetConfigAttributes(*attrs.Package, meta, cipher); err != nil {
		return nil, err
	}
	return p, nil
}

// Equal compares identity, plugin, configuration and package ids.
func (r *PackageRepository) Equal(o *PackageRepository) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ID != o.ID || r.Name != o.Name || r.PluginConfiguration != o.PluginConfiguration {
		return false
	}
	if !sameProperties(r.Configuration, o.Configuration) || len(r.Packages) != len(o.Packages) {
		return false
	}
	for i := range r.Packages {
		if r.Packages[i].ID != o.Packages[i].ID {
			return false
		}
	}
	return true
}

func sameProperties(a, b configuration.Configuration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
