package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const SecureElementService = "platform.v1.SecureElement"

const (
	SecureElementRandom      = "/" + SecureElementService + "/Random"
	SecureElementGenerateKey = "/" + SecureElementService + "/GenerateKey"
	SecureElementKeyInfo     = "/" + SecureElementService + "/KeyInfo"
	SecureElementSign        = "/" + SecureElementService + "/Sign"
	SecureElementDeleteKey   = "/" + SecureElementService + "/DeleteKey"
	SecureElementLockSlot    = "/" + SecureElementService + "/LockSlot"
	SecureElementUnlockSlot  = "/" + SecureElementService + "/UnlockSlot"
)

// SecureElementServer exposes a secure element's slots. Private keys never
// cross this boundary.
//
//	Random(n)             -> random bytes
//	GenerateKey(curve)    -> KeyInfo struct
//	KeyInfo(slot)         -> KeyInfo struct
//	Sign({slot, digest})  -> r||s
//	DeleteKey(slot)       -> empty
//	LockSlot(slot)        -> empty
//	UnlockSlot(slot)      -> empty
type SecureElementServer interface {
	Random(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error)
	GenerateKey(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	KeyInfo(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Sign(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	DeleteKey(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	LockSlot(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	UnlockSlot(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var SecureElementServiceDesc = grpc.ServiceDesc{
	ServiceName: SecureElementService,
	HandlerType: (*SecureElementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SecureElementService, "Random", SecureElementServer.Random),
		unary(SecureElementService, "GenerateKey", SecureElementServer.GenerateKey),
		unary(SecureElementService, "KeyInfo", SecureElementServer.KeyInfo),
		unary(SecureElementService, "Sign", SecureElementServer.Sign),
		unary(SecureElementService, "DeleteKey", SecureElementServer.DeleteKey),
		unary(SecureElementService, "LockSlot", SecureElementServer.LockSlot),
		unary(SecureElementService, "UnlockSlot", SecureElementServer.UnlockSlot),
	},
	Metadata: "platform/v1/secure_element.proto",
}

func RegisterSecureElementServer(s grpc.ServiceRegistrar, srv SecureElementServer) {
	s.RegisterService(&SecureElementServiceDesc, srv)
}

type SecureElementClient struct {
	cc grpc.ClientConnInterface
}

func NewSecureElementClient(cc grpc.ClientConnInterface) *SecureElementClient {
	return &SecureElementClient{cc: cc}
}

func (c *SecureElementClient) Random(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, SecureElementRandom, in, opts)
}

func (c *SecureElementClient) GenerateKey(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SecureElementGenerateKey, in, opts)
}

func (c *SecureElementClient) KeyInfo(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SecureElementKeyInfo, in, opts)
}

func (c *SecureElementClient) Sign(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, SecureElementSign, in, opts)
}

func (c *SecureElementClient) DeleteKey(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, SecureElementDeleteKey, in, opts)
}

func (c *SecureElementClient) LockSlot(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, SecureElementLockSlot, in, opts)
}

func (c *SecureElementClient) UnlockSlot(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, SecureElementUnlockSlot, in, opts)
}
