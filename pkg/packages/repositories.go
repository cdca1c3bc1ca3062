package packages

import (
	"github.com/rzbill/cruise/pkg/crypto"
)

// PackageRepositories is the list of repositories of a configuration.
type PackageRepositories []*PackageRepository

// Find returns the repository with id, or nil.
func (l PackageRepositories) Find(id string) *PackageRepository {
	for _, r := range l {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// FindPackageRepositoryHaving returns the repository owning packageID.
func (l PackageRepositories) FindPackageRepositoryHaving(packageID string) *PackageRepository {
	for _, r := range l {
		if r.FindPackage(packageID) != nil {
			return r
		}
	}
	return nil
}

// FindPackageDefinitionWith returns the package with packageID in any
// repository.
func (l PackageRepositories) FindPackageDefinitionWith(packageID string) *PackageDefinition {
	if r := l.FindPackageRepositoryHaving(packageID); r != nil {
		return r.FindPackage(packageID)
	}
	return nil
}

// FindDuplicate returns a repository sharing the id of r, or one with the
// same plugin and configuration values.
func (l PackageRepositories) FindDuplicate(r *PackageRepository, cipher crypto.Cipher) *PackageRepository {
	if r.ID != "" {
		if found := l.Find(r.ID); found != nil {
			return found
		}
	}
	for _, existing := range l {
		if existing.PluginConfiguration.ID == r.PluginConfiguration.ID &&
			existing.Configuration.SameValues(r.Configuration, cipher) {
			return existing
		}
	}
	return nil
}

// Add appends r.
func (l *PackageRepositories) Add(r *PackageRepository) { *l = append(*l, r) }

// Remove drops the repository with id and reports whether it was found.
func (l *PackageRepositories) Remove(id string) bool {
	for i, r := range *l {
		if r.ID == id {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// FinalizeAfterLoad generates missing ids and wires package back
// references for every repository.
func (l PackageRepositories) FinalizeAfterLoad() {
	for _, r := range l {
		r.FinalizeAfterLoad()
	}
}

// ApplyPackagePluginMetadata reclassifies secure values of every repository
// and package.
func (l PackageRepositories) ApplyPackagePluginMetadata(meta MetadataSource, cipher crypto.Cipher) error {
	for _, r := range l {
		if err := r.ApplyPackagePluginMetadata(meta, cipher); err != nil {
			return err
		}
	}
	return nil
}

// Validate runs repository and package validation, name uniqueness and
// package fingerprint uniqueness across all repositories. Validation
// problems are recorded on the entities; the error is only returned when a
// fingerprint cannot be computed.
func (l PackageRepositories) Validate(meta MetadataSource, cipher crypto.Cipher) error {
	seen := map[string]*PackageRepository{}
	byFingerprint := map[string]Packages{}
	for _, r := range l {
		r.Validate()
		r.ValidateNameUniqueness(seen)
		r.Packages.Validate()
		for _, p := range r.Packages {
			fp, err := p.Fingerprint(meta, cipher)
			if err != nil {
				return err
			}
			byFingerprint[fp] = append(byFingerprint[fp], p)
		}
	}
	for _, r := range l {
		for _, p := range r.Packages {
			if err := p.ValidateFingerprintUniqueness(byFingerprint, meta, cipher); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasErrors reports whether any repository or package recorded an error.
func (l PackageRepositories) HasErrors() bool {
	for _, r := range l {
		if r.HasErrors() {
			return true
		}
	}
	return false
}
