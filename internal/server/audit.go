package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/wire"
)

type AuditServer struct {
	logger *audit.Logger
}

var _ wire.AuditServer = (*AuditServer)(nil)

func NewAuditServer(logger *audit.Logger) *AuditServer {
	return &AuditServer{logger: logger}
}

func (s *AuditServer) QueryAudit(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	filter, err := wire.AuditFilterFromStruct(req)
	if err != nil {
		return nil, rpcError(err)
	}

	entries := s.logger.Query(filter)
	values := make([]*structpb.Value, 0, len(entries))
	for _, e := range entries {
		values = append(values, structpb.NewStructValue(wire.AuditEntryToStruct(e)))
	}
	return &structpb.ListValue{Values: values}, nil
}

// StreamAudit sends new entries matching the filter as they are logged. A
// positive limit ends the stream after that many entries.
func (s *AuditServer) StreamAudit(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	filter, err := wire.AuditFilterFromStruct(req)
	if err != nil {
		return rpcError(err)
	}

	sub := s.logger.Subscribe()
	defer s.logger.Unsubscribe(sub)

	sent := 0
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case entry, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !filter.Match(entry) {
				continue
			}
			if err := stream.Send(wire.AuditEntryToStruct(entry)); err != nil {
				return err
			}
			sent++
			if filter.Limit > 0 && sent >= filter.Limit {
				return nil
			}
		}
	}
}
