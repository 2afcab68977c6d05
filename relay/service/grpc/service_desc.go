package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "logrelay.v1.Relay"

// RelayServer is the server API for the Relay service. Messages are
// google.protobuf.Struct so clients need no generated stubs.
type RelayServer interface {
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChannels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&RelayServiceDesc, srv)
}

// Full method names, for clients invoking through a raw connection
const (
	MethodIngest       = "/" + ServiceName + "/Ingest"
	MethodClear        = "/" + ServiceName + "/Clear"
	MethodListChannels = "/" + ServiceName + "/ListChannels"
	MethodStats        = "/" + ServiceName + "/Stats"
	MethodSubscribe    = "/" + ServiceName + "/Subscribe"
)

func unaryHandler(method string, call func(RelayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).Subscribe(in, stream)
}

// RelayServiceDesc describes the Relay service for grpc.Server.
var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: unaryHandler(MethodIngest, RelayServer.Ingest)},
		{MethodName: "Clear", Handler: unaryHandler(MethodClear, RelayServer.Clear)},
		{MethodName: "ListChannels", Handler: unaryHandler(MethodListChannels, RelayServer.ListChannels)},
		{MethodName: "Stats", Handler: unaryHandler(MethodStats, RelayServer.Stats)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "logrelay/v1/relay.proto",
}
