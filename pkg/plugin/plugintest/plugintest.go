// Package plugintest provides a scripted plugin transport for tests.
package plugintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
)

type reply struct {
	resp *plugin.Response
	err  error
}

// Transport answers requests from canned replies keyed by plugin id and
// request name, and records every request it sees.
type Transport struct {
	mu       sync.Mutex
	replies  map[string]reply
	requests []Recorded
}

// Recorded is one request seen by the transport.
type Recorded struct {
	PluginID string
	Request  *plugin.Request
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{replies: make(map[string]reply)}
}

func replyKey(pluginID, name string) string { return pluginID + "\x00" + name }

// Respond scripts the reply of pluginID to request name.
func (t *Transport) Respond(pluginID, name string, code int, body string) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[replyKey(pluginID, name)] = reply{resp: &plugin.Response{Code: code, Body: body}}
	return t
}

// RespondOK scripts a successful reply.
func (t *Transport) RespondOK(pluginID, name, body string) *Transport {
	return t.Respond(pluginID, name, plugin.SuccessResponseCode, body)
}

// Fail scripts a transport failure.
func (t *Transport) Fail(pluginID, name string, err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[replyKey(pluginID, name)] = reply{err: err}
	return t
}

// Submit implements plugin.Transport. Unscripted requests get a 500.
func (t *Transport) Submit(_ context.Context, pluginID string, req *plugin.Request) (*plugin.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, Recorded{PluginID: pluginID, Request: req})
	r, ok := t.replies[replyKey(pluginID, req.Name)]
	if !ok {
		return &plugin.Response{Code: 500, Body: fmt.Sprintf("no reply scripted for %s", req.Name)}, nil
	}
	return r.resp, r.err
}

// Requests returns every recorded request.
func (t *Transport) Requests() []Recorded {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Recorded(nil), t.requests...)
}

// Last returns the most recent request, or nil.
func (t *Transport) Last() *plugin.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		return nil
	}
	return t.requests[len(t.requests)-1].Request
}

// Count returns how many requests named name were seen.
func (t *Transport) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.requests {
		if r.Request.Name == name {
			n++
		}
	}
	return n
}

// Descriptor builds a descriptor advertising one extension.
func Descriptor(id, extension string, versions ...string) plugin.Descriptor {
	return plugin.Descriptor{ID: id, Extensions: map[string][]string{extension: versions}}
}

// NewManager returns a manager over t with descriptors already loaded and a
// silent logger.
func NewManager(t *Transport, descriptors ...plugin.Descriptor) *plugin.Manager {
	m := plugin.NewManager(t, plugin.WithLogger(log.NewTestLogger()))
	for _, d := range descriptors {
		m.Load(context.Background(), d)
	}
	return m
}
