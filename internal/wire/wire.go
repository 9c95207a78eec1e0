// Package wire defines the platform's gRPC services. Messages are protobuf
// well-known types so the services need no generated code: scalars travel
// in wrapperspb values and records in structpb structs, with byte fields
// base64-encoded as in the protobuf JSON mapping.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// unary builds a method descriptor whose handler decodes Req, runs the
// interceptor chain and dispatches to call.
func unary[S any, Req any, Res proto.Message, PReq interface {
	*Req
	proto.Message
}](service, name string, call func(S, context.Context, PReq) (Res, error)) grpc.MethodDesc {
	full := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream builds a server-streaming descriptor: one request, many
// responses.
func serverStream[S any, Req any, Res any, PReq interface {
	*Req
	proto.Message
}](name string, call func(S, PReq, grpc.ServerStreamingServer[Res]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := PReq(new(Req))
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(S), in, &grpc.GenericServerStream[Req, Res]{ServerStream: stream})
		},
	}
}

func invoke[Res any, PRes interface {
	*Res
	proto.Message
}](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, opts []grpc.CallOption) (PRes, error) {
	out := PRes(new(Res))
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func openServerStream[Req any, Res any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Res], error) {
	stream, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Res]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
