package authorization

import (
	"context"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
)

const requestPrefix = "go.cd.authorization."

// Request names.
const (
	RequestGetCapabilities        = requestPrefix + "get-capabilities"
	RequestGetAuthConfigMetadata  = requestPrefix + "auth-config.get-metadata"
	RequestGetAuthConfigView      = requestPrefix + "auth-config.get-view"
	RequestValidateAuthConfig     = requestPrefix + "auth-config.validate"
	RequestVerifyConnection       = requestPrefix + "auth-config.verify-connection"
	RequestGetRoleConfigMetadata  = requestPrefix + "role-config.get-metadata"
	RequestGetRoleConfigView      = requestPrefix + "role-config.get-view"
	RequestValidateRoleConfig     = requestPrefix + "role-config.validate"
	RequestAuthenticateUser       = requestPrefix + "authenticate-user"
	RequestSearchUsers            = requestPrefix + "search-users"
	RequestAuthorizationServerURL = requestPrefix + "authorization-server-url"
	RequestGetUserRoles           = requestPrefix + "get-user-roles"
	RequestGetPluginIcon          = requestPrefix + "get-icon"
)

// Extension is the authorization extension.
type Extension struct {
	extension.Base[Converter]
}

// New returns the extension speaking protocols 1.0 and 2.0.
func New(manager extension.PluginManager) *Extension {
	return &Extension{Base: extension.NewBase[Converter](manager, plugin.AuthorizationExtension, map[string]Converter{
		"1.0": ConverterV1{},
		"2.0": ConverterV2{},
	})}
}

// Capabilities asks the plugin what it supports.
func (e *Extension) Capabilities(ctx context.Context, pluginID string) (*Capabilities, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetCapabilities, nil, Converter.CapabilitiesFromResponse)
}

// AuthConfigMetadata asks for the auth config schema.
func (e *Extension) AuthConfigMetadata(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetAuthConfigMetadata, nil, Converter.MetadataFromResponse)
}

// AuthConfigView asks for the auth config form template.
func (e *Extension) AuthConfigView(ctx context.Context, pluginID string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetAuthConfigView, nil, Converter.AuthConfigViewFromResponse)
}

// ValidateAuthConfig asks the plugin to validate an auth config.
func (e *Extension) ValidateAuthConfig(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestValidateAuthConfig,
		func(c Converter) (string, error) { return c.ValidateRequest(values) },
		Converter.ValidationFromResponse)
}

// VerifyConnection asks the plugin to reach its backend with an auth config.
func (e *Extension) VerifyConnection(ctx context.Context, pluginID string, values extension.ConfigValues) (*VerifyConnectionResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestVerifyConnection,
		func(c Converter) (string, error) { return c.ValidateRequest(values) },
		Converter.VerifyConnectionFromResponse)
}

// RoleConfigMetadata asks for the role config schema.
func (e *Extension) RoleConfigMetadata(ctx context.Context, pluginID string) (configuration.Schema, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetRoleConfigMetadata, nil, Converter.MetadataFromResponse)
}

// RoleConfigView asks for the role config form template.
func (e *Extension) RoleConfigView(ctx context.Context, pluginID string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetRoleConfigView, nil, Converter.RoleConfigViewFromResponse)
}

// ValidateRoleConfig asks the plugin to validate a role config.
func (e *Extension) ValidateRoleConfig(ctx context.Context, pluginID string, values extension.ConfigValues) (*plugin.ValidationResult, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestValidateRoleConfig,
		func(c Converter) (string, error) { return c.ValidateRequest(values) },
		Converter.ValidationFromResponse)
}

// AuthenticateUser checks credentials against the plugin. At least one auth
// config is required; the plugin is not contacted otherwise.
func (e *Extension) AuthenticateUser(ctx context.Context, pluginID, username, password string, authConfigs []AuthConfig, roleConfigs []RoleConfig) (*AuthenticationResponse, error) {
	if len(authConfigs) == 0 {
		return nil, &MissingAuthConfigsError{PluginID: pluginID}
	}
	return extension.Invoke(ctx, &e.Base, pluginID, RequestAuthenticateUser,
		func(c Converter) (string, error) {
			return c.AuthenticateRequest(username, password, authConfigs, roleConfigs)
		},
		Converter.AuthenticationFromResponse)
}

// SearchUsers asks the plugin for users matching term.
func (e *Extension) SearchUsers(ctx context.Context, pluginID, term string, authConfigs []AuthConfig) ([]User, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestSearchUsers,
		func(c Converter) (string, error) { return c.SearchUsersRequest(term, authConfigs) },
		Converter.UsersFromResponse)
}

// CallbackURL is where a web-based plugin sends users back after signing in.
func CallbackURL(siteURL, pluginID string) string {
	return strings.TrimRight(siteURL, "/") + "/go/plugin/" + pluginID + "/authenticate"
}

// AuthorizationServerURL asks a web-based plugin where to send users to
// sign in.
func (e *Extension) AuthorizationServerURL(ctx context.Context, pluginID string, authConfigs []AuthConfig, siteURL string) (string, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestAuthorizationServerURL,
		func(c Converter) (string, error) { return c.ServerURLRequest(authConfigs, CallbackURL(siteURL, pluginID)) },
		Converter.ServerURLFromResponse)
}

// UserRoles asks the plugin which roles username holds. It needs protocol
// 2.0.
func (e *Extension) UserRoles(ctx context.Context, pluginID, username string, authConfig *AuthConfig, roleConfigs []RoleConfig) (*AuthenticationResponse, error) {
	if authConfig == nil {
		return nil, &MissingAuthConfigsError{PluginID: pluginID}
	}
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetUserRoles,
		func(c Converter) (string, error) { return c.UserRolesRequest(username, *authConfig, roleConfigs) },
		Converter.AuthenticationFromResponse)
}

// Icon asks the plugin for its icon.
func (e *Extension) Icon(ctx context.Context, pluginID string) (*plugin.Image, error) {
	return extension.Invoke(ctx, &e.Base, pluginID, RequestGetPluginIcon, nil, Converter.ImageFromResponse)
}
