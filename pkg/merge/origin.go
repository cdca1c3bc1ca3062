// Package merge combines the main configuration file with configuration
// partials fetched from config repositories. Pipeline groups and
// environments that share a name across sources are presented as one
// entity whose parts keep track of where each piece came from.
package merge

import (
	"fmt"
	"strings"
)

// MainConfigName is the display name of the local configuration file.
const MainConfigName = "cruise-config.xml"

// Origin describes where a piece of configuration was defined.
type Origin interface {
	// CanEdit reports whether the server may write changes back to the
	// source.
	CanEdit() bool
	// IsLocal reports whether the source is the main configuration file.
	IsLocal() bool
	DisplayName() string
}

// FileOrigin is the main configuration file. It is local and editable.
type FileOrigin struct {
	Path string
}

// CanEdit implements Origin.
func (FileOrigin) CanEdit() bool { return true }

// IsLocal implements Origin.
func (FileOrigin) IsLocal() bool { return true }

// DisplayName implements Origin.
func (o FileOrigin) DisplayName() string {
	if o.Path == "" {
		return MainConfigName
	}
	return o.Path
}

// ConfigRepo identifies a config repository.
type ConfigRepo struct {
	ID       string
	URL      string
	PluginID string
}

// RepoOrigin is a partial parsed from a config repository at a revision. It
// is neither local nor editable.
type RepoOrigin struct {
	Repo     ConfigRepo
	Revision string
}

// CanEdit implements Origin.
func (RepoOrigin) CanEdit() bool { return false }

// IsLocal implements Origin.
func (RepoOrigin) IsLocal() bool { return false }

// DisplayName implements Origin.
func (o RepoOrigin) DisplayName() string {
	return fmt.Sprintf("%s at %s", o.Repo.URL, o.Revision)
}

// MergeOrigin is the combined origin of an entity made of several parts.
type MergeOrigin []Origin

// CanEdit implements Origin. A merged entity can be edited through any of
// its editable parts.
func (m MergeOrigin) CanEdit() bool {
	for _, o := range m {
		if canEdit(o) {
			return true
		}
	}
	return false
}

// IsLocal implements Origin.
func (m MergeOrigin) IsLocal() bool {
	for _, o := range m {
		if !isLocal(o) {
			return false
		}
	}
	return true
}

// DisplayName implements Origin.
func (m MergeOrigin) DisplayName() string {
	return "Merged: [ " + strings.Join(displayNames(m), "; ") + " ]"
}

// Size returns the number of parts.
func (m MergeOrigin) Size() int { return len(m) }

// Contains reports whether an equal origin is among the parts.
func (m MergeOrigin) Contains(o Origin) bool {
	for _, each := range m {
		if sameOrigin(each, o) {
			return true
		}
	}
	return false
}

func sameOrigin(a, b Origin) bool {
	switch x := a.(type) {
	case FileOrigin:
		y, ok := b.(FileOrigin)
		return ok && x == y
	case RepoOrigin:
		y, ok := b.(RepoOrigin)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}

// canEdit treats a missing origin as not editable.
func canEdit(o Origin) bool { return o != nil && o.CanEdit() }

func isLocal(o Origin) bool { return o != nil && o.IsLocal() }

func displayName(o Origin) string {
	if o == nil {
		return "unknown"
	}
	return o.DisplayName()
}

func displayNames(origins []Origin) []string {
	names := make([]string, 0, len(origins))
	for _, o := range origins {
		names = append(names, displayName(o))
	}
	return names
}
