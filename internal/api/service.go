package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "backtester.v1.BacktestService"

// Full method names, as used by clients with grpc.ClientConn.Invoke.
const (
	MethodRunBacktest    = "/" + ServiceName + "/RunBacktest"
	MethodGetRun         = "/" + ServiceName + "/GetRun"
	MethodListRuns       = "/" + ServiceName + "/ListRuns"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodStreamTrades   = "/" + ServiceName + "/StreamTrades"
)

// BacktestServer is the server API of the BacktestService. Requests and
// responses are google.protobuf.Struct messages whose fields are described
// in wire.go.
type BacktestServer interface {
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamTrades(*structpb.Struct, grpc.ServerStream) error
}

// StreamTradesDesc describes the server-streaming StreamTrades method for
// clients opening the stream with grpc.ClientConn.NewStream.
var StreamTradesDesc = grpc.StreamDesc{
	StreamName:    "StreamTrades",
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RunBacktest", BacktestServer.RunBacktest),
		unary("GetRun", BacktestServer.GetRun),
		unary("ListRuns", BacktestServer.ListRuns),
		unary("ListStrategies", BacktestServer.ListStrategies),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamTradesDesc.StreamName,
			ServerStreams: true,
			Handler:       streamTradesHandler,
		},
	},
	Metadata: "backtester/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on the given gRPC server instance.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&serviceDesc, srv)
}

type unaryMethod func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BacktestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamTradesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BacktestServer).StreamTrades(in, stream)
}
