package packages

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/types"
)

// PackageAttributes is the form submitted to create or edit a package.
type PackageAttributes struct {
	Name          string
	AutoUpdate    *bool
	Configuration []ConfigurationAttribute
}

// PackageDefinition is one package inside a repository.
type PackageDefinition struct {
	ID            string
	Name          string
	AutoUpdate    bool
	Configuration configuration.Configuration

	repository *PackageRepository
	errors     types.ConfigErrors
}

// NewPackageDefinition returns a package with auto update enabled.
func NewPackageDefinition(id, name string, cfg configuration.Configuration) *PackageDefinition {
	return &PackageDefinition{ID: id, Name: name, AutoUpdate: true, Configuration: cfg}
}

// Repository returns the owning repository, or nil before wiring.
func (p *PackageDefinition) Repository() *PackageRepository { return p.repository }

// SetRepository points p at its owning repository.
func (p *PackageDefinition) SetRepository(r *PackageRepository) { p.repository = r }

func (p *PackageDefinition) pluginID() string {
	if p.repository == nil {
		return ""
	}
	return p.repository.PluginConfiguration.ID
}

// EnsureIDExists assigns a random id when none was configured.
func (p *PackageDefinition) EnsureIDExists() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
}

// Errors returns the errors recorded on the package itself.
func (p *PackageDefinition) Errors() *types.ConfigErrors { return &p.errors }

// AddError records msg against field.
func (p *PackageDefinition) AddError(field, msg string) { p.errors.Add(field, msg) }

// HasErrors reports whether the package or its properties have errors.
func (p *PackageDefinition) HasErrors() bool {
	return !p.errors.IsEmpty() || p.Configuration.HasErrors()
}

// Validate checks the name and configuration keys of the package.
func (p *PackageDefinition) Validate() {
	switch {
	case p.Name == "":
		p.AddError(FieldName, "Package name is mandatory")
	case !types.IsValidName(p.Name):
		p.AddError(FieldName, types.InvalidPackageNameMessage("Package", p.Name))
	}
	p.Configuration.ValidateUniqueness(fmt.Sprintf("Package '%s'", p.Name))
}

// ValidateNameUniqueness records p in seen. On a case-insensitive collision
// only p is flagged; the package seen first keeps its name.
func (p *PackageDefinition) ValidateNameUniqueness(seen map[string]*PackageDefinition) {
	key := strings.ToLower(p.Name)
	other, ok := seen[key]
	if !ok {
		seen[key] = p
		return
	}
	if other == p {
		return
	}
	p.AddError(FieldName, fmt.Sprintf("You have defined multiple packages called '%s'. Package names are case-insensitive and must be unique within a repository.", p.Name))
}

// ValidateFingerprintUniqueness flags p when its fingerprint group in
// byFingerprint has more than one member.
func (p *PackageDefinition) ValidateFingerprintUniqueness(byFingerprint map[string]Packages, meta MetadataSource, cipher crypto.Cipher) error {
	fp, err := p.Fingerprint(meta, cipher)
	if err != nil {
		return err
	}
	group := byFingerprint[fp]
	if len(group) < 2 {
		return nil
	}
	p.AddError(FieldID, duplicatePackagesMessage(group))
	return nil
}

func duplicatePackagesMessage(group Packages) string {
	parts := make([]string, 0, len(group))
	for _, d := range group {
		repoName := ""
		if d.repository != nil {
			repoName = d.repository.Name
		}
		parts = append(parts, fmt.Sprintf("[Repo Name: '%s', Package Name: '%s']", repoName, d.Name))
	}
	return "Cannot save package or repo, found duplicate packages. " + strings.Join(parts, ", ")
}

// Fingerprint identifies the package by plugin id and the identity values of
// the package and then of its repository. Each side falls back to all keys
// when its plugin metadata is missing.
func (p *PackageDefinition) Fingerprint(meta MetadataSource, cipher crypto.Cipher) (string, error) {
	pluginID := p.pluginID()
	parts := []string{"plugin-id=" + pluginID}

	pkgSchema, pkgFound := packageSchema(meta, pluginID)
	pkgParts, err := identityParts(p.Configuration, pkgSchema, pkgFound, cipher)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint package %q: %w", p.Name, err)
	}
	parts = append(parts, pkgParts...)

	if p.repository != nil {
		repoSchema, repoFound := repositorySchema(meta, pluginID)
		repoParts, err := identityParts(p.repository.Configuration, repoSchema, repoFound, cipher)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint repository %q: %w", p.repository.Name, err)
		}
		parts = append(parts, repoParts...)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, configuration.FingerprintDelimiter)))
	return hex.EncodeToString(sum[:]), nil
}

func identityParts(cfg configuration.Configuration, schema configuration.Schema, found bool, cipher crypto.Cipher) ([]string, error) {
	var parts []string
	for _, prop := range cfg {
		if found && !schema.IsPartOfIdentity(prop.Key()) {
			continue
		}
		fp, err := prop.ForFingerprint(cipher)
		if err != nil {
			return nil, err
		}
		parts = append(parts, fp)
	}
	return parts, nil
}

// ConfigForDisplay renders "<repository> - Package: [...]".
func (p *PackageDefinition) ConfigForDisplay(meta MetadataSource) string {
	repo := "Repository: []"
	if p.repository != nil {
		repo = p.repository.ConfigForDisplay(meta)
	}
	schema, found := packageSchema(meta, p.pluginID())
	return repo + " - Package: " + p.Configuration.ForDisplayWithSchema(schema, found)
}

// ApplyPackagePluginMetadata reclassifies secure values using the package
// schema of pluginID.
func (p *PackageDefinition) ApplyPackagePluginMetadata(meta MetadataSource, pluginID string, cipher crypto.Cipher) error {
	schema, found := packageSchema(meta, pluginID)
	if !found {
		return nil
	}
	return p.Configuration.ApplySchema(schema, cipher)
}

// SetConfigAttributes replaces name, auto update and configuration from a
// submitted form.
func (p *PackageDefinition) SetConfigAttributes(attrs PackageAttributes, meta MetadataSource, cipher crypto.Cipher) error {
	p.Name = attrs.Name
	if attrs.AutoUpdate != nil {
		p.AutoUpdate = *attrs.AutoUpdate
	}
	schema, _ := packageSchema(meta, p.pluginID())
	cfg, err := buildConfiguration(attrs.Configuration, schema, cipher)
	if err != nil {
		return err
	}
	p.Configuration = cfg
	return nil
}

// ClearEmptyConfigurations drops empty properties without errors.
func (p *PackageDefinition) ClearEmptyConfigurations() {
	p.Configuration.ClearEmptyConfigurations()
}

// Equal compares id, name and configuration.
func (p *PackageDefinition) Equal(o *PackageDefinition) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.ID == o.ID && p.Name == o.Name && p.AutoUpdate == o.AutoUpdate &&
		sameProperties(p.Configuration, o.Configuration)
}

// Packages is the ordered list of packages of one repository.
type Packages []*PackageDefinition

// Find returns the package with id, or nil.
func (l Packages) Find(id string) *PackageDefinition {
	for _, p := range l {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Validate validates each package and the uniqueness of names within the
// list.
func (l Packages) Validate() {
	seen := map[string]*PackageDefinition{}
	for _, p := range l {
		p.Validate()
		p.ValidateNameUniqueness(seen)
	}
}
