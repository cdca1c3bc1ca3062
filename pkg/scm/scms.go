package scm

import (
	"fmt"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
)

// SCMs is the ordered list of SCMs defined in a configuration.
type SCMs []*SCM

// Find returns the SCM with id, or nil.
func (l SCMs) Find(id string) *SCM {
	for _, s := range l {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// FindByName returns the SCM whose name matches ignoring case, or nil.
func (l SCMs) FindByName(name string) *SCM {
	for _, s := range l {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// FindDuplicate returns an SCM sharing the id of s, or one with the same
// plugin and configuration values. Names are ignored.
func (l SCMs) FindDuplicate(s *SCM, cipher crypto.Cipher) *SCM {
	if s.ID != "" {
		if found := l.Find(s.ID); found != nil {
			return found
		}
	}
	for _, existing := range l {
		if existing.sameDefinition(s, cipher) {
			return existing
		}
	}
	return nil
}

// CanAdd reports whether s has no duplicate in the list.
func (l SCMs) CanAdd(s *SCM, cipher crypto.Cipher) bool {
	return l.FindDuplicate(s, cipher) == nil
}

// Add appends s.
func (l *SCMs) Add(s *SCM) { *l = append(*l, s) }

// Remove drops the SCM with id and reports whether it was found.
func (l *SCMs) Remove(id string) bool {
	for i, s := range *l {
		if s.ID == id {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// EnsureIDsExist assigns ids to every SCM that has none.
func (l SCMs) EnsureIDsExist() {
	for _, s := range l {
		s.EnsureIDExists()
	}
}

// Validate validates every SCM, then name uniqueness and fingerprint
// uniqueness across the list. Every member of a colliding group is flagged.
func (l SCMs) Validate(schemas configuration.SchemaSource, cipher crypto.Cipher) error {
	for _, s := range l {
		s.Validate()
	}
	l.validateNameUniqueness()
	return l.validateFingerprintUniqueness(schemas, cipher)
}

func (l SCMs) validateNameUniqueness() {
	seen := map[string]*SCM{}
	for _, s := range l {
		if s.Name == "" {
			continue
		}
		name := strings.ToLower(s.Name)
		first, ok := seen[name]
		if !ok {
			seen[name] = s
			continue
		}
		msg := fmt.Sprintf("You have defined multiple SCMs called '%s'. SCM names are case-insensitive and must be unique.", s.Name)
		first.AddError(FieldName, msg)
		s.AddError(FieldName, msg)
	}
}

func (l SCMs) validateFingerprintUniqueness(schemas configuration.SchemaSource, cipher crypto.Cipher) error {
	groups := map[string]SCMs{}
	var order []string
	for _, s := range l {
		fp, err := s.Fingerprint(schemas, cipher)
		if err != nil {
			return err
		}
		if _, ok := groups[fp]; !ok {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], s)
	}
	for _, fp := range order {
		group := groups[fp]
		if len(group) < 2 {
			continue
		}
		names := make([]string, 0, len(group))
		for _, s := range group {
			names = append(names, s.Name)
		}
		msg := "Cannot save SCM, found duplicate SCMs. " + strings.Join(names, ", ")
		for _, s := range group {
			s.AddError(FieldSCMID, msg)
		}
	}
	return nil
}

// HasErrors reports whether any SCM recorded an error.
func (l SCMs) HasErrors() bool {
	for _, s := range l {
		if s.HasErrors() {
			return true
		}
	}
	return false
}

// ApplyPluginMetadata reclassifies secure values of every SCM.
func (l SCMs) ApplyPluginMetadata(schemas configuration.SchemaSource, cipher crypto.Cipher) error {
	for _, s := range l {
		if err := s.ApplyPluginMetadata(schemas, cipher); err != nil {
			return err
		}
	}
	return nil
}
