package authorization

import (
	"errors"
	"strings"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/plugin"
	"github.com/rzbill/cruise/pkg/plugin/extension"
	"github.com/tidwall/gjson"
)

// ErrUserRolesUnsupported is returned by converters that predate
// get-user-roles.
var ErrUserRolesUnsupported = errors.New("get-user-roles is not supported by authorization extension version 1.0")

// Converter speaks one version of the authorization messages.
type Converter interface {
	CapabilitiesFromResponse(body string) (*Capabilities, error)
	MetadataFromResponse(body string) (configuration.Schema, error)
	AuthConfigViewFromResponse(body string) (string, error)
	RoleConfigViewFromResponse(body string) (string, error)
	ValidateRequest(values extension.ConfigValues) (string, error)
	ValidationFromResponse(body string) (*plugin.ValidationResult, error)
	VerifyConnectionFromResponse(body string) (*VerifyConnectionResult, error)
	AuthenticateRequest(username, password string, authConfigs []AuthConfig, roleConfigs []RoleConfig) (string, error)
	AuthenticationFromResponse(body string) (*AuthenticationResponse, error)
	SearchUsersRequest(term string, authConfigs []AuthConfig) (string, error)
	UsersFromResponse(body string) ([]User, error)
	ServerURLRequest(authConfigs []AuthConfig, callbackURL string) (string, error)
	ServerURLFromResponse(body string) (string, error)
	UserRolesRequest(username string, authConfig AuthConfig, roleConfigs []RoleConfig) (string, error)
	ImageFromResponse(body string) (*plugin.Image, error)
}

// ConverterV1 is protocol version 1.0.
type ConverterV1 struct{}

// ConverterV2 is protocol version 2.0. It adds get-user-roles and the
// can_get_user_roles capability.
type ConverterV2 struct {
	ConverterV1
}

// CapabilitiesFromResponse implements Converter.
func (ConverterV1) CapabilitiesFromResponse(body string) (*Capabilities, error) {
	return decodeCapabilities(body, false)
}

// CapabilitiesFromResponse implements Converter.
func (ConverterV2) CapabilitiesFromResponse(body string) (*Capabilities, error) {
	return decodeCapabilities(body, true)
}

func decodeCapabilities(body string, userRoles bool) (*Capabilities, error) {
	if extension.IsEmptyBody(body) {
		return nil, plugin.ErrEmptyResponseBody
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, plugin.NewDeserializationError("Capabilities should be returned as a map")
	}
	c := &Capabilities{}
	switch t := SupportedAuthType(strings.ToLower(root.Get("supported_auth_type").String())); t {
	case AuthTypePassword, AuthTypeWeb:
		c.SupportedAuthType = t
	default:
		return nil, plugin.NewDeserializationError("Capabilities 'supported_auth_type' should be one of password, web")
	}
	c.CanSearch = root.Get("can_search").Bool()
	c.CanAuthorize = root.Get("can_authorize").Bool()
	if userRoles {
		c.CanGetUserRoles = root.Get("can_get_user_roles").Bool()
	}
	return c, nil
}

// MetadataFromResponse implements Converter.
func (ConverterV1) MetadataFromResponse(body string) (configuration.Schema, error) {
	return extension.DecodeMetadataList(body)
}

// AuthConfigViewFromResponse implements Converter.
func (ConverterV1) AuthConfigViewFromResponse(body string) (string, error) {
	return extension.DecodeTemplate(body, "Auth config view")
}

// RoleConfigViewFromResponse implements Converter.
func (ConverterV1) RoleConfigViewFromResponse(body string) (string, error) {
	return extension.DecodeTemplate(body, "Role config view")
}

// ValidateRequest implements Converter.
func (ConverterV1) ValidateRequest(values extension.ConfigValues) (string, error) {
	return extension.Encode(values.Flat())
}

// ValidationFromResponse implements Converter.
func (ConverterV1) ValidationFromResponse(body string) (*plugin.ValidationResult, error) {
	return extension.DecodeValidationResult(body)
}

// VerifyConnectionFromResponse implements Converter.
func (ConverterV1) VerifyConnectionFromResponse(body string) (*VerifyConnectionResult, error) {
	if extension.IsEmptyBody(body) {
		return nil, plugin.ErrEmptyResponseBody
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	status := root.Get("status")
	if status.Type != gjson.String || status.Str == "" {
		return nil, plugin.NewDeserializationError("Verify connection 'status' should be of type string")
	}
	result := &VerifyConnectionResult{Status: status.Str, Message: root.Get("message").String()}
	if errs := root.Get("errors"); errs.Exists() && errs.Type != gjson.Null {
		v, err := extension.DecodeValidationResult(errs.Raw)
		if err != nil {
			return nil, err
		}
		result.Validation = v
	}
	return result, nil
}

func authConfigsList(authConfigs []AuthConfig) []extension.Object {
	out := make([]extension.Object, 0, len(authConfigs))
	for _, ac := range authConfigs {
		out = append(out, extension.Object{}.
			With("id", ac.ID).
			With("configuration", ac.Configuration.Flat()))
	}
	return out
}

func roleConfigsList(roleConfigs []RoleConfig) []extension.Object {
	out := make([]extension.Object, 0, len(roleConfigs))
	for _, rc := range roleConfigs {
		out = append(out, extension.Object{}.
			With("name", rc.Name).
			With("auth_config_id", rc.AuthConfigID).
			With("configuration", rc.Configuration.Flat()))
	}
	return out
}

// AuthenticateRequest implements Converter. A nil roleConfigs is sent as an
// empty list.
func (ConverterV1) AuthenticateRequest(username, password string, authConfigs []AuthConfig, roleConfigs []RoleConfig) (string, error) {
	return extension.Encode(extension.Object{}.
		With("credentials", extension.Object{}.With("username", username).With("password", password)).
		With("auth_configs", authConfigsList(authConfigs)).
		With("role_configs", roleConfigsList(roleConfigs)))
}

// AuthenticationFromResponse implements Converter.
func (ConverterV1) AuthenticationFromResponse(body string) (*AuthenticationResponse, error) {
	if extension.IsEmptyBody(body) {
		return nil, plugin.ErrEmptyResponseBody
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	resp := &AuthenticationResponse{}
	if u := root.Get("user"); u.Exists() && u.Type != gjson.Null {
		user, err := decodeUser(u)
		if err != nil {
			return nil, err
		}
		resp.User = user
	}
	roles, err := extension.DecodeStrings(root.Get("roles"), "Authentication 'roles'")
	if err != nil {
		return nil, err
	}
	resp.Roles = roles
	return resp, nil
}

func decodeUser(u gjson.Result) (*User, error) {
	if !u.IsObject() {
		return nil, plugin.NewDeserializationError("User should be returned as a map")
	}
	name := u.Get("username")
	if name.Type != gjson.String || name.Str == "" {
		return nil, plugin.NewDeserializationError("User 'username' should be a non-empty string")
	}
	return &User{
		Username:    name.Str,
		DisplayName: u.Get("display_name").String(),
		Email:       u.Get("email").String(),
	}, nil
}

// SearchUsersRequest implements Converter.
func (ConverterV1) SearchUsersRequest(term string, authConfigs []AuthConfig) (string, error) {
	return extension.Encode(extension.Object{}.
		With("search_term", term).
		With("auth_configs", authConfigsList(authConfigs)))
}

// UsersFromResponse implements Converter.
func (ConverterV1) UsersFromResponse(body string) ([]User, error) {
	if extension.IsEmptyBody(body) {
		return nil, nil
	}
	if !gjson.Valid(body) {
		return nil, plugin.NewDeserializationError("Response body is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsArray() {
		return nil, plugin.NewDeserializationError("Users should be returned as a list")
	}
	users := make([]User, 0, len(root.Array()))
	for _, u := range root.Array() {
		user, err := decodeUser(u)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, nil
}

// ServerURLRequest implements Converter.
func (ConverterV1) ServerURLRequest(authConfigs []AuthConfig, callbackURL string) (string, error) {
	return extension.Encode(extension.Object{}.
		With("auth_configs", authConfigsList(authConfigs)).
		With("authorization_server_callback_url", callbackURL))
}

// ServerURLFromResponse implements Converter.
func (ConverterV1) ServerURLFromResponse(body string) (string, error) {
	if extension.IsEmptyBody(body) {
		return "", plugin.ErrEmptyResponseBody
	}
	v := gjson.Get(body, "authorization_server_url")
	if v.Type != gjson.String || v.Str == "" {
		return "", plugin.NewDeserializationError("'authorization_server_url' should be a non-empty string")
	}
	return v.Str, nil
}

// UserRolesRequest implements Converter.
func (ConverterV1) UserRolesRequest(string, AuthConfig, []RoleConfig) (string, error) {
	return "", ErrUserRolesUnsupported
}

// UserRolesRequest implements Converter.
func (ConverterV2) UserRolesRequest(username string, authConfig AuthConfig, roleConfigs []RoleConfig) (string, error) {
	return extension.Encode(extension.Object{}.
		With("auth_configs", authConfigsList([]AuthConfig{authConfig})).
		With("role_configs", roleConfigsList(roleConfigs)).
		With("username", username))
}

// ImageFromResponse implements Converter.
func (ConverterV1) ImageFromResponse(body string) (*plugin.Image, error) {
	return extension.DecodeImage(body)
}
