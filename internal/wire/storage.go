package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const StorageService = "platform.v1.Storage"

const (
	StorageSize   = "/" + StorageService + "/Size"
	StorageRead   = "/" + StorageService + "/Read"
	StorageWrite  = "/" + StorageService + "/Write"
	StorageRemove = "/" + StorageService + "/Remove"
)

// StorageServer persists named blobs.
//
//	Size(name)             -> byte count
//	Read({name, max_len})  -> bytes
//	Write({name, data})    -> empty
//	Remove(name)           -> empty
type StorageServer interface {
	Size(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	Read(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Write(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var StorageServiceDesc = grpc.ServiceDesc{
	ServiceName: StorageService,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(StorageService, "Size", StorageServer.Size),
		unary(StorageService, "Read", StorageServer.Read),
		unary(StorageService, "Write", StorageServer.Write),
		unary(StorageService, "Remove", StorageServer.Remove),
	},
	Metadata: "platform/v1/storage.proto",
}

func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&StorageServiceDesc, srv)
}

type StorageClient struct {
	cc grpc.ClientConnInterface
}

func NewStorageClient(cc grpc.ClientConnInterface) *StorageClient {
	return &StorageClient{cc: cc}
}

func (c *StorageClient) Size(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	return invoke[wrapperspb.Int64Value](ctx, c.cc, StorageSize, in, opts)
}

func (c *StorageClient) Read(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, StorageRead, in, opts)
}

func (c *StorageClient) Write(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, StorageWrite, in, opts)
}

func (c *StorageClient) Remove(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, StorageRemove, in, opts)
}

// ReadRequest builds the Storage.Read request. A negative maxLen reads the
// whole blob.
func ReadRequest(name string, maxLen int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":    str(name),
		"max_len": structpb.NewNumberValue(float64(maxLen)),
	}}
}

func ParseReadRequest(s *structpb.Struct) (name string, maxLen int, err error) {
	name = getString(s, "name")
	if name == "" {
		return "", 0, errMissing("name")
	}
	maxLen = -1
	if v, ok := s.GetFields()["max_len"]; ok {
		maxLen = int(v.GetNumberValue())
	}
	return name, maxLen, nil
}

func WriteRequest(name string, data []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name": str(name),
		"data": b64(data),
	}}
}

func ParseWriteRequest(s *structpb.Struct) (name string, data []byte, err error) {
	name = getString(s, "name")
	if name == "" {
		return "", nil, errMissing("name")
	}
	data, err = getBytes(s, "data")
	if data == nil && err == nil {
		data = []byte{}
	}
	return name, data, err
}
