package server

import (
	"context"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/wire"
)

// MaxRandomBytes caps a single Random call.
const MaxRandomBytes = 64 * 1024

// SecureElementServer serves an hsm.Provider over gRPC.
type SecureElementServer struct {
	hsm   hsm.Provider
	audit *audit.Logger
}

var _ wire.SecureElementServer = (*SecureElementServer)(nil)

func NewSecureElementServer(h hsm.Provider, a *audit.Logger) *SecureElementServer {
	return &SecureElementServer{hsm: h, audit: a}
}

func (s *SecureElementServer) Random(ctx context.Context, req *wrapperspb.UInt32Value) (*wrapperspb.BytesValue, error) {
	n := req.GetValue()
	if n > MaxRandomBytes {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d random bytes per call", MaxRandomBytes)
	}

	p := make([]byte, n)
	if err := s.hsm.Random(p); err != nil {
		s.audit.Log("Random", "", audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, status.Errorf(codes.Unavailable, "random: %v", err)
	}

	s.audit.Log("Random", "", audit.StatusOK, peerAddr(ctx), map[string]string{"bytes": strconv.Itoa(int(n))})
	return wrapperspb.Bytes(p), nil
}

func (s *SecureElementServer) GenerateKey(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	curve, err := crypto.ParseCurve(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}

	slot, err := s.hsm.GenerateKey(curve)
	if err != nil {
		s.audit.Log("GenerateSlotKey", "", audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, rpcError(err)
	}
	info, err := s.hsm.KeyInfo(slot)
	if err != nil {
		return nil, rpcError(err)
	}

	s.audit.Log("GenerateSlotKey", slot, audit.StatusOK, peerAddr(ctx), map[string]string{"curve": curve.String()})
	return wire.KeyInfoToStruct(info), nil
}

func (s *SecureElementServer) KeyInfo(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	info, err := s.hsm.KeyInfo(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}
	return wire.KeyInfoToStruct(info), nil
}

func (s *SecureElementServer) Sign(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	slot, digest, err := wire.ParseSlotSignRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}

	sig, err := s.hsm.Sign(slot, digest)
	if err != nil {
		s.audit.Log("SlotSign", slot, audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, rpcError(err)
	}

	s.audit.Log("SlotSign", slot, audit.StatusOK, peerAddr(ctx), nil)
	return wrapperspb.Bytes(sig), nil
}

func (s *SecureElementServer) DeleteKey(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.hsm.DeleteKey(req.GetValue()); err != nil {
		return nil, rpcError(err)
	}
	s.audit.Log("DeleteSlotKey", req.GetValue(), audit.StatusOK, peerAddr(ctx), nil)
	return &emptypb.Empty{}, nil
}

func (s *SecureElementServer) LockSlot(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return s.setLocked(ctx, "LockSlot", req.GetValue(), true)
}

func (s *SecureElementServer) UnlockSlot(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return s.setLocked(ctx, "UnlockSlot", req.GetValue(), false)
}

func (s *SecureElementServer) setLocked(ctx context.Context, op, slot string, locked bool) (*emptypb.Empty, error) {
	l, ok := s.hsm.(hsm.Locker)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "secure element does not support slot locking")
	}

	var err error
	if locked {
		err = l.Lock(slot)
	} else {
		err = l.Unlock(slot)
	}
	if err != nil {
		s.audit.Log(op, slot, audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, rpcError(err)
	}

	s.audit.Log(op, slot, audit.StatusOK, peerAddr(ctx), nil)
	return &emptypb.Empty{}, nil
}
