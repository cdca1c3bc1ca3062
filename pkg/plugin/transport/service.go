// Package transport carries plugin requests to plugin processes over gRPC,
// or to bundled plugins inside the server process.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rzbill/cruise/pkg/plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	serviceName  = "cruise.plugin.v1.PluginHost"
	submitMethod = "/" + serviceName + "/Submit"

	// CodecName is the content subtype plugin calls are sent with.
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals the plugin envelope as JSON; the messages are plain
// structs, not protobufs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// Envelope addresses a request to one plugin of a host.
type Envelope struct {
	PluginID string         `json:"plugin_id"`
	Request  plugin.Request `json:"request"`
}

// Validate is checked by the host's validator interceptor.
func (e *Envelope) Validate() error {
	if e.PluginID == "" {
		return errors.New("plugin_id is required")
	}
	if e.Request.Name == "" {
		return errors.New("request name is required")
	}
	return nil
}

type hostServer interface {
	Submit(ctx context.Context, in *Envelope) (*plugin.Response, error)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(hostServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(hostServer).Submit(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*hostServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cruise/plugin/v1/host",
}
