package extension

import (
	"context"

	"github.com/rzbill/cruise/pkg/plugin"
)

// Call describes one logical plugin operation.
type Call[T any] struct {
	// Name is the request name sent to the plugin.
	Name string
	// Body builds the request body for the negotiated version. Nil sends no
	// body.
	Body func(version string) (string, error)
	// Handle decodes a successful response.
	Handle func(version string, resp *plugin.Response) (T, error)
}

// RequestHelper negotiates the version, submits a call and decodes the
// answer. Every failure after the plugin lookup is returned as a
// *plugin.CommunicationError.
type RequestHelper struct {
	manager   PluginManager
	extension string
	versions  []string
}

// NewRequestHelper returns a helper for extension.
func NewRequestHelper(manager PluginManager, extension string, versions []string) *RequestHelper {
	return &RequestHelper{manager: manager, extension: extension, versions: versions}
}

// Submit runs call against pluginID.
func Submit[T any](ctx context.Context, h *RequestHelper, pluginID string, call Call[T]) (T, error) {
	var zero T
	if !h.manager.IsPluginOfType(h.extension, pluginID) {
		return zero, &plugin.MissingExtensionError{Extension: h.extension, PluginID: pluginID}
	}

	wrap := func(err error) error {
		return &plugin.CommunicationError{PluginID: pluginID, Extension: h.extension, Request: call.Name, Err: err}
	}

	version, err := h.manager.ResolveExtensionVersion(pluginID, h.extension, h.versions)
	if err != nil {
		return zero, wrap(err)
	}

	req := &plugin.Request{Extension: h.extension, ExtensionVersion: version, Name: call.Name}
	if call.Body != nil {
		body, err := call.Body(version)
		if err != nil {
			return zero, wrap(err)
		}
		req.Body = body
	}

	resp, err := h.manager.Submit(ctx, pluginID, req)
	if err != nil {
		return zero, wrap(err)
	}
	if !resp.IsSuccess() {
		return zero, wrap(&plugin.UnexpectedResponseError{Code: resp.Code, Body: resp.Body})
	}
	if call.Handle == nil {
		return zero, nil
	}
	out, err := call.Handle(version, resp)
	if err != nil {
		return zero, wrap(err)
	}
	return out, nil
}

// SubmitBody is Submit for calls whose response only needs the body.
func SubmitBody[T any](ctx context.Context, h *RequestHelper, pluginID, name string, body func(string) (string, error), decode func(version, body string) (T, error)) (T, error) {
	return Submit(ctx, h, pluginID, Call[T]{
		Name: name,
		Body: body,
		Handle: func(version string, resp *plugin.Response) (T, error) {
			return decode(version, resp.Body)
		},
	})
}
