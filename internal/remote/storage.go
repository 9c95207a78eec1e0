package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/wire"
)

// Storage implements storage.Backend against a remote Storage service.
type Storage struct {
	st      *wire.StorageClient
	timeout time.Duration
}

var _ storage.Backend = (*Storage)(nil)

func NewStorage(cc grpc.ClientConnInterface, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Storage{st: wire.NewStorageClient(cc), timeout: timeout}
}

func (s *Storage) Size(name string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp, err := s.st.Size(ctx, wrapperspb.String(name))
	if err != nil {
		return 0, storageError("size", name, err)
	}
	return resp.GetValue(), nil
}

func (s *Storage) Read(name string, maxLen int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp, err := s.st.Read(ctx, wire.ReadRequest(name, maxLen))
	if err != nil {
		return nil, storageError("read", name, err)
	}
	return resp.GetValue(), nil
}

func (s *Storage) Write(name string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.st.Write(ctx, wire.WriteRequest(name, data)); err != nil {
		return storageError("write", name, err)
	}
	return nil
}

func (s *Storage) Remove(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.st.Remove(ctx, wrapperspb.String(name)); err != nil {
		return storageError("remove", name, err)
	}
	return nil
}

// storageError maps status codes onto the storage taxonomy. Everything that
// is not a missing blob or a refusal is an I/O error.
func storageError(op, name string, err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s %q: %w", op, name, storage.ErrNotFound)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s %q: %w: %s", op, name, storage.ErrPermissionDenied, st.Message())
	default:
		return fmt.Errorf("%s %q: %w: %s: %s", op, name, storage.ErrIO, st.Code(), st.Message())
	}
}
