package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// DeserializationPrefix starts every malformed-response diagnostic.
const DeserializationPrefix = "Unable to de-serialize json response. "

// ErrEmptyResponseBody is returned when a plugin answers with nothing where a
// value was required.
var ErrEmptyResponseBody = errors.New("Empty response body")

// NotFoundError is returned for lookups of a plugin that is not loaded.
type NotFoundError struct {
	PluginID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Plugin with id '%s' is not loaded", e.PluginID)
}

// UnsupportedVersionError is returned when the server and the plugin share
// no protocol version for an extension.
type UnsupportedVersionError struct {
	PluginID       string
	Extension      string
	ServerVersions []string
	PluginVersions []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("Could not find matching extension version between Plugin[%s] and Go. Extension '%s': server supports [%s], plugin supports [%s]",
		e.PluginID, e.Extension, strings.Join(e.ServerVersions, ", "), strings.Join(e.PluginVersions, ", "))
}

// UnexpectedResponseError is returned when a plugin answers with a code other
// than SuccessResponseCode.
type UnexpectedResponseError struct {
	Code int
	Body string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("The plugin sent a response that could not be understood by Go. Plugin returned with code '%d' and the following response: '%s'", e.Code, e.Body)
}

// DeserializationError describes a malformed plugin response.
type DeserializationError struct {
	Message string
}

// NewDeserializationError formats a diagnostic.
func NewDeserializationError(format string, args ...any) *DeserializationError {
	return &DeserializationError{Message: fmt.Sprintf(format, args...)}
}

func (e *DeserializationError) Error() string {
	return DeserializationPrefix + e.Message
}

// CommunicationError wraps any failure of a single plugin call.
type CommunicationError struct {
	PluginID  string
	Extension string
	Request   string
	Err       error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("Interaction with plugin with id '%s' implementing '%s' extension failed while requesting for '%s'. Reason: [%v]",
		e.PluginID, e.Extension, e.Request, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// IsDeserializationError reports whether err carries a DeserializationError.
func IsDeserializationError(err error) bool {
	var de *DeserializationError
	return errors.As(err, &de)
}

// MissingExtensionError is returned when a call targets a plugin that is not
// loaded for the extension.
type MissingExtensionError struct {
	Extension string
	PluginID  string
}

func (e *MissingExtensionError) Error() string {
	return fmt.Sprintf("Did not find '%s' plugin with id '%s'. Looks like plugin is missing", e.Extension, e.PluginID)
}
