package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	KeyManagementService = "platform.v1.KeyManagement"
	SigningService       = "platform.v1.Signing"
)

const (
	KeyManagementGenerateKey    = "/" + KeyManagementService + "/GenerateKey"
	KeyManagementGetKey         = "/" + KeyManagementService + "/GetKey"
	KeyManagementListKeys       = "/" + KeyManagementService + "/ListKeys"
	KeyManagementRotateKey      = "/" + KeyManagementService + "/RotateKey"
	KeyManagementDeactivateKey  = "/" + KeyManagementService + "/DeactivateKey"
	KeyManagementWatchKeyEvents = "/" + KeyManagementService + "/WatchKeyEvents"

	SigningSign      = "/" + SigningService + "/Sign"
	SigningBatchSign = "/" + SigningService + "/BatchSign"
)

// KeyManagementServer drives the key lifecycle.
//
//	GenerateKey({curve, location, labels}) -> key struct
//	GetKey(id)                             -> key struct
//	ListKeys(status, "" for all)           -> list of key structs
//	RotateKey(id)                          -> {old, new}
//	DeactivateKey(id)                      -> key struct
//	WatchKeyEvents()                       -> stream of {type, key, timestamp}
type KeyManagementServer interface {
	GenerateKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetKey(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListKeys(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	RotateKey(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	DeactivateKey(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	WatchKeyEvents(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var KeyManagementServiceDesc = grpc.ServiceDesc{
	ServiceName: KeyManagementService,
	HandlerType: (*KeyManagementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(KeyManagementService, "GenerateKey", KeyManagementServer.GenerateKey),
		unary(KeyManagementService, "GetKey", KeyManagementServer.GetKey),
		unary(KeyManagementService, "ListKeys", KeyManagementServer.ListKeys),
		unary(KeyManagementService, "RotateKey", KeyManagementServer.RotateKey),
		unary(KeyManagementService, "DeactivateKey", KeyManagementServer.DeactivateKey),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchKeyEvents", KeyManagementServer.WatchKeyEvents),
	},
	Metadata: "platform/v1/keys.proto",
}

func RegisterKeyManagementServer(s grpc.ServiceRegistrar, srv KeyManagementServer) {
	s.RegisterService(&KeyManagementServiceDesc, srv)
}

// SigningServer signs digests with managed keys.
//
//	Sign({key_id, digest})       -> signature struct
//	BatchSign({key_id, digests}) -> list of signature or {error}
type SigningServer interface {
	Sign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BatchSign(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

var SigningServiceDesc = grpc.ServiceDesc{
	ServiceName: SigningService,
	HandlerType: (*SigningServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SigningService, "Sign", SigningServer.Sign),
		unary(SigningService, "BatchSign", SigningServer.BatchSign),
	},
	Metadata: "platform/v1/keys.proto",
}

func RegisterSigningServer(s grpc.ServiceRegistrar, srv SigningServer) {
	s.RegisterService(&SigningServiceDesc, srv)
}

type KeyManagementClient struct {
	cc grpc.ClientConnInterface
}

func NewKeyManagementClient(cc grpc.ClientConnInterface) *KeyManagementClient {
	return &KeyManagementClient{cc: cc}
}

func (c *KeyManagementClient) GenerateKey(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, KeyManagementGenerateKey, in, opts)
}

func (c *KeyManagementClient) GetKey(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, KeyManagementGetKey, in, opts)
}

func (c *KeyManagementClient) ListKeys(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, KeyManagementListKeys, in, opts)
}

func (c *KeyManagementClient) RotateKey(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, KeyManagementRotateKey, in, opts)
}

func (c *KeyManagementClient) DeactivateKey(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, KeyManagementDeactivateKey, in, opts)
}

func (c *KeyManagementClient) WatchKeyEvents(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return openServerStream[emptypb.Empty, structpb.Struct](ctx, c.cc, &KeyManagementServiceDesc.Streams[0], KeyManagementWatchKeyEvents, in, opts)
}

type SigningClient struct {
	cc grpc.ClientConnInterface
}

func NewSigningClient(cc grpc.ClientConnInterface) *SigningClient {
	return &SigningClient{cc: cc}
}

func (c *SigningClient) Sign(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SigningSign, in, opts)
}

func (c *SigningClient) BatchSign(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, SigningBatchSign, in, opts)
}
