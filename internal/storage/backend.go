package storage

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrNotFound         = errors.New("blob not found")
	ErrIO               = errors.New("storage i/o error")
	ErrPermissionDenied = errors.New("storage permission denied")
)

// Backend persists named byte blobs. Names are caller-chosen identifiers;
// how a backend maps them onto a physical location is its own policy.
type Backend interface {
	// Size returns the stored length of name.
	Size(name string) (int64, error)
	// Read returns at most maxLen bytes of name. Asking for more than is
	// stored, or a negative maxLen, returns the whole blob.
	Read(name string, maxLen int) ([]byte, error)
	// Write replaces the contents of name.
	Write(name string, data []byte) error
	// Remove deletes name.
	Remove(name string) error
}

// classify maps filesystem errors onto the storage taxonomy.
func classify(op, name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %q: %w", op, name, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %q: %w: %v", op, name, ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s %q: %w: %v", op, name, ErrIO, err)
	}
}

func truncate(data []byte, maxLen int) []byte {
	if maxLen >= 0 && maxLen < len(data) {
		return data[:maxLen]
	}
	return data
}
