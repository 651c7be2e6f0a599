package ingest

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "shoplens.ingest.v1.IngestService"

	// PublishMethod is the full method path of the Publish RPC.
	PublishMethod = "/" + ServiceName + "/Publish"

	// CodecName is the gRPC content-subtype the service is served with.
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// IngestServer is implemented by the server-side receiver.
type IngestServer interface {
	Publish(ctx context.Context, ev *Event) (*PublishResponse, error)
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shoplens/ingest/v1/ingest.proto",
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Event)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Publish(ctx, req.(*Event))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls IngestService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client that issues calls on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Publish sends ev to the server and returns the fan-out result.
func (c *Client) Publish(ctx context.Context, ev *Event, opts ...grpc.CallOption) (*PublishResponse, error) {
	out := new(PublishResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, PublishMethod, ev, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
