package types

import (
	"fmt"
	"regexp"
)

// MaxNameLength is the longest name accepted for groups, pipelines,
// repositories and SCMs.
const MaxNameLength = 255

// alphanumeric, underscore, hyphen and period; no leading period
var validName = regexp.MustCompile(`^[a-zA-Z0-9_\-][a-zA-Z0-9_\-.]*$`)

// IsValidName reports whether name matches the shared name grammar.
func IsValidName(name string) bool {
	return len(name) <= MaxNameLength && validName.MatchString(name)
}

// InvalidNameMessage is the error recorded for a name failing IsValidName.
// An unset name is rendered as 'null'.
func InvalidNameMessage(kind, name string) string {
	return fmt.Sprintf("Invalid %s name '%s'. This must be alphanumeric and can contain underscores, hyphens and periods (however, it cannot start with a period). The maximum allowed length is %d characters.",
		kind, nameOrNull(name), MaxNameLength)
}

// InvalidPackageNameMessage is the error recorded for a package repository
// or package name failing IsValidName. Its wording predates hyphen support
// and is kept as is.
func InvalidPackageNameMessage(kind, name string) string {
	return fmt.Sprintf("Invalid %s name '%s'. This must be alphanumeric and can contain underscores and periods (however, it cannot start with a period). The maximum allowed length is %d characters.",
		kind, name, MaxNameLength)
}

func nameOrNull(name string) string {
	if name == "" {
		return "null"
	}
	return name
}
