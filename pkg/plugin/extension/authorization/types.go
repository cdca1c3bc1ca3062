// Package authorization talks to authorization plugins: capabilities, auth
// and role configuration, user authentication and user search.
package authorization

import (
	"fmt"

	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

// SupportedAuthType is how a plugin authenticates users.
type SupportedAuthType string

// Supported auth types.
const (
	AuthTypePassword SupportedAuthType = "password"
	AuthTypeWeb      SupportedAuthType = "web"
)

// Capabilities is what a plugin says it can do.
type Capabilities struct {
	SupportedAuthType SupportedAuthType
	CanSearch         bool
	CanAuthorize      bool
	CanGetUserRoles   bool
}

// AuthConfig is one security auth config bound to the plugin.
type AuthConfig struct {
	ID            string
	Configuration extension.ConfigValues
}

// RoleConfig is one plugin role.
type RoleConfig struct {
	Name          string
	AuthConfigID  string
	Configuration extension.ConfigValues
}

// User is a user known to the plugin.
type User struct {
	Username    string
	DisplayName string
	Email       string
}

// AuthenticationResponse is the user and the plugin roles it holds.
type AuthenticationResponse struct {
	User  *User
	Roles []string
}

// VerifyConnectionResult is the outcome of verify-connection. Validation is
// set when the plugin rejected the auth config itself.
type VerifyConnectionResult struct {
	Status     string
	Message    string
	Validation *plugin.ValidationResult
}

// IsSuccessful reports whether the plugin reached its backend.
func (r *VerifyConnectionResult) IsSuccessful() bool {
	return r != nil && r.Status == "success"
}

// MissingAuthConfigsError is returned before contacting a plugin that would
// have no auth config to work with.
type MissingAuthConfigsError struct {
	PluginID string
}

func (e *MissingAuthConfigsError) Error() string {
	return fmt.Sprintf("No AuthConfigs configured for plugin: %s, Plugin would need at-least one auth_config to authenticate user.", e.PluginID)
}
