package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/wire"
)

// KeyManagementServer serves a keystore.Manager and fans key lifecycle
// events out to watchers.
type KeyManagementServer struct {
	keys *keystore.Manager

	mu          sync.RWMutex
	subscribers []chan *structpb.Struct
}

var _ wire.KeyManagementServer = (*KeyManagementServer)(nil)

func NewKeyManagementServer(keys *keystore.Manager) *KeyManagementServer {
	return &KeyManagementServer{keys: keys}
}

func (s *KeyManagementServer) GenerateKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	curve, loc, labels, err := wire.ParseGenerateKeyRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}

	entry, err := s.keys.Generate(curve, loc, labels)
	if err != nil {
		return nil, rpcError(err)
	}

	s.broadcastEvent(wire.KeyEventCreated, entry)
	return wire.KeyEntryToStruct(entry), nil
}

func (s *KeyManagementServer) GetKey(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	entry, err := s.keys.Get(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}
	return wire.KeyEntryToStruct(entry), nil
}

func (s *KeyManagementServer) ListKeys(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	filter, err := wire.ParseKeyStatus(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}

	entries, err := s.keys.List(filter)
	if err != nil {
		return nil, rpcError(err)
	}

	values := make([]*structpb.Value, 0, len(entries))
	for _, e := range entries {
		values = append(values, structpb.NewStructValue(wire.KeyEntryToStruct(e)))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *KeyManagementServer) RotateKey(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	old, replacement, err := s.keys.Rotate(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}

	s.broadcastEvent(wire.KeyEventRotated, replacement)
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"old": structpb.NewStructValue(wire.KeyEntryToStruct(old)),
		"new": structpb.NewStructValue(wire.KeyEntryToStruct(replacement)),
	}}, nil
}

func (s *KeyManagementServer) DeactivateKey(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if err := s.keys.Deactivate(req.GetValue()); err != nil {
		return nil, rpcError(err)
	}

	entry, err := s.keys.Get(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}
	s.broadcastEvent(wire.KeyEventDeactivated, entry)
	return wire.KeyEntryToStruct(entry), nil
}

func (s *KeyManagementServer) WatchKeyEvents(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch := make(chan *structpb.Struct, 32)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if i := slices.Index(s.subscribers, ch); i >= 0 {
			s.subscribers = slices.Delete(s.subscribers, i, i+1)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case event := <-ch:
			if err := stream.Send(event); err != nil {
				return err
			}
		}
	}
}

// watchers reports the number of open WatchKeyEvents streams.
func (s *KeyManagementServer) watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *KeyManagementServer) broadcastEvent(eventType string, entry *keystore.KeyEntry) {
	event := wire.KeyEventToStruct(eventType, entry, time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
