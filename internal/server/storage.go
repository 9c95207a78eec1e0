package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/wire"
)

// reservedPrefixes hold key material and the key index. They are not
// reachable through the Storage service.
var reservedPrefixes = []string{"keys/", "keystore/"}

// StorageServer exposes a storage.Backend over gRPC. With a sealer, blob
// contents are encrypted at rest and Size reports the plaintext length.
type StorageServer struct {
	backend storage.Backend
	sealer  *crypto.Sealer
	audit   *audit.Logger
}

var _ wire.StorageServer = (*StorageServer)(nil)

func NewStorageServer(b storage.Backend, sealer *crypto.Sealer, a *audit.Logger) *StorageServer {
	return &StorageServer{backend: b, sealer: sealer, audit: a}
}

func (s *StorageServer) Size(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	name, err := checkName(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}

	if s.sealer == nil {
		n, err := s.backend.Size(name)
		if err != nil {
			return nil, rpcError(err)
		}
		return wrapperspb.Int64(n), nil
	}

	data, err := s.load(name)
	if err != nil {
		return nil, rpcError(err)
	}
	defer clear(data)
	return wrapperspb.Int64(int64(len(data))), nil
}

func (s *StorageServer) Read(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	name, maxLen, err := wire.ParseReadRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}
	if name, err = checkName(name); err != nil {
		return nil, rpcError(err)
	}

	var data []byte
	if s.sealer == nil {
		data, err = s.backend.Read(name, maxLen)
	} else {
		data, err = s.load(name)
		if err == nil && maxLen >= 0 && maxLen < len(data) {
			data = data[:maxLen]
		}
	}
	if err != nil {
		s.audit.Log("ReadBlob", name, audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, rpcError(err)
	}

	s.audit.Log("ReadBlob", name, audit.StatusOK, peerAddr(ctx), map[string]string{"bytes": strconv.Itoa(len(data))})
	return wrapperspb.Bytes(data), nil
}

func (s *StorageServer) Write(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	name, data, err := wire.ParseWriteRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}
	if name, err = checkName(name); err != nil {
		return nil, rpcError(err)
	}

	blob := data
	if s.sealer != nil {
		blob, err = s.sealer.Seal(name, data)
		if err != nil {
			return nil, rpcError(fmt.Errorf("seal %q: %w", name, err))
		}
	}

	if err := s.backend.Write(name, blob); err != nil {
		s.audit.Log("WriteBlob", name, audit.StatusError, peerAddr(ctx), map[string]string{"error": err.Error()})
		return nil, rpcError(err)
	}

	s.audit.Log("WriteBlob", name, audit.StatusOK, peerAddr(ctx), map[string]string{"bytes": strconv.Itoa(len(data))})
	return &emptypb.Empty{}, nil
}

func (s *StorageServer) Remove(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	name, err := checkName(req.GetValue())
	if err != nil {
		return nil, rpcError(err)
	}
	if err := s.backend.Remove(name); err != nil {
		return nil, rpcError(err)
	}
	s.audit.Log("RemoveBlob", name, audit.StatusOK, peerAddr(ctx), nil)
	return &emptypb.Empty{}, nil
}

func (s *StorageServer) load(name string) ([]byte, error) {
	sealed, err := s.backend.Read(name, -1)
	if err != nil {
		return nil, err
	}
	return s.sealer.Open(name, sealed)
}

// checkName returns the cleaned form of name. Reserved prefixes are matched
// after cleaning so dot segments cannot reach key material.
func checkName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty blob name", wire.ErrMalformed)
	}
	clean, err := storage.CleanName(name)
	if err != nil {
		return "", err
	}
	for _, p := range reservedPrefixes {
		if clean == strings.TrimSuffix(p, "/") || strings.HasPrefix(clean, p) {
			return "", fmt.Errorf("blob %q: %w: reserved name", name, storage.ErrPermissionDenied)
		}
	}
	return clean, nil
}
