package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const AuditService = "platform.v1.Audit"

const (
	AuditQueryAudit  = "/" + AuditService + "/QueryAudit"
	AuditStreamAudit = "/" + AuditService + "/StreamAudit"
)

// AuditServer exposes the audit log.
//
//	QueryAudit({subject, operation, start, end, limit}) -> list of entries
//	StreamAudit({subject, operation, limit})            -> stream of entries
type AuditServer interface {
	QueryAudit(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	StreamAudit(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

var AuditServiceDesc = grpc.ServiceDesc{
	ServiceName: AuditService,
	HandlerType: (*AuditServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AuditService, "QueryAudit", AuditServer.QueryAudit),
	},
	Streams: []grpc.StreamDesc{
		serverStream("StreamAudit", AuditServer.StreamAudit),
	},
	Metadata: "platform/v1/audit.proto",
}

func RegisterAuditServer(s grpc.ServiceRegistrar, srv AuditServer) {
	s.RegisterService(&AuditServiceDesc, srv)
}

type AuditClient struct {
	cc grpc.ClientConnInterface
}

func NewAuditClient(cc grpc.ClientConnInterface) *AuditClient {
	return &AuditClient{cc: cc}
}

func (c *AuditClient) QueryAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, AuditQueryAudit, in, opts)
}

func (c *AuditClient) StreamAudit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return openServerStream[structpb.Struct, structpb.Struct](ctx, c.cc, &AuditServiceDesc.Streams[0], AuditStreamAudit, in, opts)
}
