// Package enginepoolpb defines the gRPC service contract for the engine
// pool: a single generic RPC carrying JSON-encoded operation payloads inside
// protobuf's well-known BytesValue wrapper. This sidesteps a protoc codegen
// step while still exercising the real google.golang.org/grpc and
// google.golang.org/protobuf wire stack end to end, in the same spirit as
// this project's reference gRPC bridge, which also relays opaque payload
// bytes between the transport and the domain layer rather than defining
// dozens of narrow bespoke messages.
package enginepoolpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EnginePoolClient is the client-side stub for the engine pool service.
type EnginePoolClient interface {
	Execute(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type enginePoolClient struct {
	cc grpc.ClientConnInterface
}

// NewEnginePoolClient wraps a ClientConn with the EnginePoolClient stub.
func NewEnginePoolClient(cc grpc.ClientConnInterface) EnginePoolClient {
	return &enginePoolClient{cc: cc}
}

func (c *enginePoolClient) Execute(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/chessbot.enginepool.EnginePool/Execute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EnginePoolServer is the server-side contract implemented by the farm.
type EnginePoolServer interface {
	Execute(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// RegisterEnginePoolServer wires srv into s using a hand-built ServiceDesc —
// the single-method shape a protoc-gen-go-grpc run would otherwise produce.
func RegisterEnginePoolServer(s grpc.ServiceRegistrar, srv EnginePoolServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "chessbot.enginepool.EnginePool",
	HandlerType: (*EnginePoolServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "enginepool.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EnginePoolServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/chessbot.enginepool.EnginePool/Execute",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EnginePoolServer).Execute(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
