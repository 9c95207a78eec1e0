package keystore

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/signing"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyInactive = errors.New("key is not active")
	ErrKeyExists   = errors.New("key already exists")
)

// Location says where a key's private half lives.
type Location int

const (
	// LocationStored keys are sealed blobs in a storage backend.
	LocationStored Location = iota + 1
	// LocationSlot keys never leave the secure element.
	LocationSlot
)

func (l Location) String() string {
	switch l {
	case LocationStored:
		return "STORED"
	case LocationSlot:
		return "SLOT"
	default:
		return "UNKNOWN"
	}
}

func ParseLocation(s string) (Location, error) {
	switch strings.ToUpper(s) {
	case "STORED":
		return LocationStored, nil
	case "SLOT":
		return LocationSlot, nil
	default:
		return 0, fmt.Errorf("unknown key location %q", s)
	}
}

// KeyStatus represents the lifecycle state of a key.
type KeyStatus int

const (
	StatusActive KeyStatus = iota + 1
	StatusRotated
	StatusDeactivated
)

func (s KeyStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusRotated:
		return "ROTATED"
	case StatusDeactivated:
		return "DEACTIVATED"
	default:
		return "UNKNOWN"
	}
}

// KeyEntry is the metadata of one managed key. It never holds private key
// material; Ref resolves to wherever that material lives.
type KeyEntry struct {
	ID        string
	Curve     crypto.Curve
	Location  Location
	Status    KeyStatus
	Slot      string
	PublicKey []byte
	CreatedAt time.Time
	RotatedAt time.Time
	Labels    map[string]string
}

// BlobName is the storage name of a stored key's sealed scalar.
func BlobName(id string) string {
	return "keys/" + id + ".key"
}

// Ref returns the signing reference for the entry regardless of status.
func (e *KeyEntry) Ref() signing.KeyRef {
	if e.Location == LocationSlot {
		return signing.SlotKey(e.Slot)
	}
	return signing.StoredKey(e.Curve, BlobName(e.ID))
}

func (e *KeyEntry) clone() *KeyEntry {
	c := *e
	c.PublicKey = append([]byte(nil), e.PublicKey...)
	c.Labels = maps.Clone(e.Labels)
	return &c
}

// Store defines the key metadata storage interface.
type Store interface {
	Put(entry *KeyEntry) error
	Get(id string) (*KeyEntry, error)
	List(filter KeyStatus) ([]*KeyEntry, error)
	UpdateStatus(id string, status KeyStatus) error
	Delete(id string) error
}
