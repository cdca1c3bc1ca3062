package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownPlugin is returned for a plugin with no endpoint.
var ErrUnknownPlugin = errors.New("no endpoint configured for plugin")

// Endpoint is where a plugin process listens.
type Endpoint struct {
	PluginID string
	Address  string
	Token    string

	// Timeout bounds each call when positive.
	Timeout time.Duration
}

// GRPCTransport submits plugin requests to plugin hosts. Connections are
// opened on first use and shared by every plugin at the same address.
type GRPCTransport struct {
	mu        sync.Mutex
	endpoints map[string]Endpoint
	conns     map[string]*grpc.ClientConn
	dialOpts  []grpc.DialOption
	logger    log.Logger
}

var _ plugin.Transport = (*GRPCTransport)(nil)

// ClientOption configures a GRPCTransport.
type ClientOption func(*GRPCTransport)

// WithDialOptions adds options to every dial.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(t *GRPCTransport) {
		t.dialOpts = append(t.dialOpts, opts...)
	}
}

// WithClientLogger sets the transport's logger.
func WithClientLogger(logger log.Logger) ClientOption {
	return func(t *GRPCTransport) {
		t.logger = logger
	}
}

// NewGRPCTransport returns a transport for endpoints.
func NewGRPCTransport(endpoints []Endpoint, opts ...ClientOption) *GRPCTransport {
	t := &GRPCTransport{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		conns:     make(map[string]*grpc.ClientConn),
		dialOpts:  []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("plugin-transport")
	for _, e := range endpoints {
		t.endpoints[e.PluginID] = e
	}
	return t
}

func (t *GRPCTransport) conn(address string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[address]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(address, t.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to plugin host at %s: %w", address, err)
	}
	t.conns[address] = c
	return c, nil
}

// Submit implements plugin.Transport.
func (t *GRPCTransport) Submit(ctx context.Context, pluginID string, req *plugin.Request) (*plugin.Response, error) {
	t.mu.Lock()
	e, ok := t.endpoints[pluginID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}

	conn, err := t.conn(e.Address)
	if err != nil {
		return nil, err
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
	if e.Token != "" {
		callOpts = append(callOpts, grpc.PerRPCCredentials(&bearerCredentials{token: e.Token}))
	}

	resp := new(plugin.Response)
	if err := conn.Invoke(ctx, submitMethod, &Envelope{PluginID: pluginID, Request: *req}, resp, callOpts...); err != nil {
		t.logger.Debug("Plugin call failed", log.Plugin(pluginID), log.Str("request", req.Name), log.Err(err))
		return nil, err
	}
	return resp, nil
}

// Close closes every open connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for addr, c := range t.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(t.conns, addr)
	}
	return errors.Join(errs...)
}

// bearerCredentials implements Authorization: Bearer <token>
type bearerCredentials struct{ token string }

func (b *bearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + b.token,
	}, nil
}

// Plugin hosts usually listen on loopback; TLS is configured through
// WithDialOptions when they do not.
func (b *bearerCredentials) RequireTransportSecurity() bool { return false }
