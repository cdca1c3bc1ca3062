// Package plugin holds the registry of loaded plugins and the request
// envelope used to talk to them. Plugins are reached only through a
// Transport; each extension type negotiates its own protocol version.
package plugin

import (
	"context"
	"sort"
)

// SuccessResponseCode is the only response code treated as success.
const SuccessResponseCode = 200

// Extension names.
const (
	AuthorizationExtension   = "authorization"
	ArtifactExtension        = "artifact"
	PackageMaterialExtension = "package-repository"
	SCMExtension             = "scm"
	NotificationExtension    = "notification"
	ConfigRepoExtension      = "configrepo"
)

// Descriptor identifies a plugin and the extension versions it advertises.
type Descriptor struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Bundled bool   `json:"bundled" yaml:"bundled"`

	// Extensions maps an extension name to the protocol versions the
	// plugin supports for it.
	Extensions map[string][]string `json:"extensions" yaml:"extensions"`
}

// Implements reports whether the plugin advertises extension.
func (d Descriptor) Implements(extension string) bool {
	_, ok := d.Extensions[extension]
	return ok
}

// ExtensionNames returns the advertised extensions in sorted order.
func (d Descriptor) ExtensionNames() []string {
	out := make([]string, 0, len(d.Extensions))
	for name := range d.Extensions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Request is one call to a plugin.
type Request struct {
	Extension        string            `json:"extension"`
	ExtensionVersion string            `json:"extension_version"`
	Name             string            `json:"name"`
	Body             string            `json:"body,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// Response is a plugin's answer to a Request.
type Response struct {
	Code    int               `json:"code"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// IsSuccess reports whether the plugin answered with SuccessResponseCode.
func (r *Response) IsSuccess() bool {
	return r != nil && r.Code == SuccessResponseCode
}

// Transport delivers requests to plugin processes.
type Transport interface {
	Submit(ctx context.Context, pluginID string, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, pluginID string, req *Request) (*Response, error)

// Submit implements Transport.
func (f TransportFunc) Submit(ctx context.Context, pluginID string, req *Request) (*Response, error) {
	return f(ctx, pluginID, req)
}
