package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/cruise/pkg/plugin"
)

// Handler answers requests for one bundled plugin.
type Handler interface {
	Handle(ctx context.Context, req *plugin.Request) (*plugin.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *plugin.Request) (*plugin.Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *plugin.Request) (*plugin.Response, error) {
	return f(ctx, req)
}

// InProcess delivers requests for bundled plugins to their handlers and
// everything else to a fallback transport.
type InProcess struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback plugin.Transport
}

var _ plugin.Transport = (*InProcess)(nil)

// NewInProcess returns a transport falling back to fallback, which may be
// nil.
func NewInProcess(fallback plugin.Transport) *InProcess {
	return &InProcess{handlers: make(map[string]Handler), fallback: fallback}
}

// Register routes requests for pluginID to h.
func (p *InProcess) Register(pluginID string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[pluginID] = h
}

// Deregister drops the handler of pluginID.
func (p *InProcess) Deregister(pluginID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, pluginID)
}

// Submit implements plugin.Transport.
func (p *InProcess) Submit(ctx context.Context, pluginID string, req *plugin.Request) (*plugin.Response, error) {
	p.mu.RLock()
	h, ok := p.handlers[pluginID]
	p.mu.RUnlock()
	if ok {
		return h.Handle(ctx, req)
	}
	if p.fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}
	return p.fallback.Submit(ctx, pluginID, req)
}
