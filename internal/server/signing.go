package server

import (
	"context"
	"runtime"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/wire"
)

// MaxBatchSize caps the digests accepted by one BatchSign call.
const MaxBatchSize = 256

// SigningServer signs digests with keys resolved through a keystore.Manager.
type SigningServer struct {
	keys   *keystore.Manager
	signer signing.Signer
}

var _ wire.SigningServer = (*SigningServer)(nil)

func NewSigningServer(keys *keystore.Manager, signer signing.Signer) *SigningServer {
	return &SigningServer{keys: keys, signer: signer}
}

func (s *SigningServer) Sign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	keyID, digest, err := wire.ParseKeySignRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}

	ref, err := s.keys.Ref(keyID)
	if err != nil {
		return nil, rpcError(err)
	}

	res, err := s.signer.Sign(ref, digest)
	if err != nil {
		return nil, rpcError(err)
	}

	out := wire.SignatureToStruct(res)
	out.Fields["key_id"] = structpb.NewStringValue(keyID)
	return out, nil
}

// BatchSign signs every digest with one key. A failed digest yields an
// {error} element instead of failing the batch.
func (s *SigningServer) BatchSign(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	keyID, digests, err := wire.ParseBatchSignRequest(req)
	if err != nil {
		return nil, rpcError(err)
	}
	if len(digests) > MaxBatchSize {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d digests per batch", MaxBatchSize)
	}

	ref, err := s.keys.Ref(keyID)
	if err != nil {
		return nil, rpcError(err)
	}

	results := make([]*structpb.Value, len(digests))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, digest := range digests {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, digest []byte) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := s.signer.Sign(ref, digest)
			if err != nil {
				results[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
					"error": structpb.NewStringValue(err.Error()),
				}})
				return
			}
			results[i] = structpb.NewStructValue(wire.SignatureToStruct(res))
		}(i, digest)
	}

	wg.Wait()
	return &structpb.ListValue{Values: results}, nil
}
