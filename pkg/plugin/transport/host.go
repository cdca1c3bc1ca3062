package transport

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	grpc_validator "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"github.com/rzbill/cruise/pkg/log"
	"github.com/rzbill/cruise/pkg/plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Host serves plugin requests inside a plugin process. Each envelope is
// handed to the handler with the plugin id it names.
type Host struct {
	handler plugin.Transport
	token   string
	logger  log.Logger
	server  *grpc.Server
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostToken requires callers to present token as a bearer token.
func WithHostToken(token string) HostOption {
	return func(h *Host) {
		h.token = token
	}
}

// WithHostLogger sets the host's logger.
func WithHostLogger(logger log.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost returns a host answering with handler.
func NewHost(handler plugin.Transport, opts ...HostOption) *Host {
	h := &Host{handler: handler, logger: log.GetDefaultLogger()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("plugin-host")

	h.server = grpc.NewServer(grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
		h.logUnaryInterceptor(),
		auth.UnaryServerInterceptor(h.authFunc),
		grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(h.recover)),
		grpc_validator.UnaryServerInterceptor(),
	)))
	h.server.RegisterService(&serviceDesc, h)
	return h
}

// Serve accepts connections on lis until Stop is called.
func (h *Host) Serve(lis net.Listener) error {
	h.logger.Info("Serving plugin requests", log.Str("address", lis.Addr().String()))
	return h.server.Serve(lis)
}

// Stop stops the host, waiting for in-flight requests.
func (h *Host) Stop() {
	h.server.GracefulStop()
}

// Submit implements hostServer.
func (h *Host) Submit(ctx context.Context, in *Envelope) (*plugin.Response, error) {
	resp, err := h.handler.Submit(ctx, in.PluginID, &in.Request)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "plugin %s: %v", in.PluginID, err)
	}
	if resp == nil {
		return nil, status.Errorf(codes.Internal, "plugin %s returned no response to %s", in.PluginID, in.Request.Name)
	}
	return resp, nil
}

func (h *Host) authFunc(ctx context.Context) (context.Context, error) {
	if h.token == "" {
		return ctx, nil
	}
	token, err := auth.AuthFromMD(ctx, "bearer")
	if err != nil {
		h.logger.Warn("Missing bearer token in plugin request")
		return nil, status.Errorf(codes.Unauthenticated, "missing bearer token: %v", err)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		h.logger.Warn("Invalid bearer token in plugin request")
		return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	return ctx, nil
}

func (h *Host) recover(p any) error {
	h.logger.Error("Plugin handler panicked", log.Str("panic", fmt.Sprint(p)))
	return status.Errorf(codes.Internal, "plugin handler panicked: %v", p)
}

func (h *Host) logUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []log.Field{log.Str("method", info.FullMethod), log.Duration("duration", time.Since(start))}
		if env, ok := req.(*Envelope); ok {
			fields = append(fields, log.Plugin(env.PluginID), log.Str("request", env.Request.Name))
		}
		if err != nil {
			h.logger.Error("Plugin request failed", append(fields, log.Err(err))...)
		} else {
			h.logger.Debug("Plugin request served", fields...)
		}
		return resp, err
	}
}
