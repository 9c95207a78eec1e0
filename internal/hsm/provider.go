package hsm

import (
	"errors"

	"github.com/glinharesb/platform-go/internal/crypto"
)

var (
	ErrSlotNotFound = errors.New("key slot not found")
	ErrSlotLocked   = errors.New("key slot is locked")
	ErrDigestLength = errors.New("digest length does not match slot curve")
)

// KeyInfo describes the key held in a slot. The private key never leaves
// the provider.
type KeyInfo struct {
	Slot      string
	Curve     crypto.Curve
	PublicKey []byte
	Locked    bool
}

// Provider abstracts a secure element. Keys are addressed by slot and are
// never exported; signatures come back as fixed-width r‖s.
type Provider interface {
	GenerateKey(curve crypto.Curve) (string, error)
	KeyInfo(slot string) (KeyInfo, error)
	Sign(slot string, digest []byte) ([]byte, error)
	Random(p []byte) error
	DeleteKey(slot string) error
}

// Locker is implemented by providers whose slots can be locked. A locked
// slot refuses to sign with ErrSlotLocked.
type Locker interface {
	Lock(slot string) error
	Unlock(slot string) error
}
