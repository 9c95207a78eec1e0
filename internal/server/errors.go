package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/wire"
)

// rpcError maps platform sentinels onto gRPC status codes. remote.Client
// inverts this mapping.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, hsm.ErrSlotNotFound),
		errors.Is(err, keystore.ErrKeyNotFound),
		errors.Is(err, signing.ErrKeyNotFound),
		errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, crypto.ErrSealedBlob):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, hsm.ErrSlotLocked),
		errors.Is(err, keystore.ErrKeyInactive),
		errors.Is(err, keystore.ErrLocationUnavailable),
		errors.Is(err, signing.ErrKeyUnusable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, hsm.ErrDigestLength),
		errors.Is(err, signing.ErrDigestLengthMismatch),
		errors.Is(err, wire.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, crypto.ErrUnsupportedCurve):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, keystore.ErrKeyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
