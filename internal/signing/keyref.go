package signing

import (
	"fmt"

	"github.com/glinharesb/platform-go/internal/crypto"
)

// KeyKind says where the private key behind a KeyRef lives.
type KeyKind int

const (
	KindRaw KeyKind = iota + 1
	KindSlot
	KindStored
)

func (k KeyKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSlot:
		return "slot"
	case KindStored:
		return "stored"
	default:
		return "unknown"
	}
}

// KeyRef is an opaque handle to private-key material: raw bytes held by the
// caller, a secure-element slot, or a blob in a storage backend. The signer
// only dereferences it for the duration of one call; the key-management
// layer that built it owns it.
type KeyRef struct {
	kind  KeyKind
	curve crypto.Curve
	raw   []byte
	slot  string
	name  string
}

// RawKey refers to an in-memory private scalar. The slice is not copied.
func RawKey(curve crypto.Curve, priv []byte) KeyRef {
	return KeyRef{kind: KindRaw, curve: curve, raw: priv}
}

// SlotKey refers to a key held by the secure element. The curve is whatever
// the slot was provisioned with.
func SlotKey(slot string) KeyRef {
	return KeyRef{kind: KindSlot, slot: slot}
}

// StoredKey refers to a private scalar persisted under name in the storage backend.
func StoredKey(curve crypto.Curve, name string) KeyRef {
	return KeyRef{kind: KindStored, curve: curve, name: name}
}

func (k KeyRef) Kind() KeyKind       { return k.kind }
func (k KeyRef) Curve() crypto.Curve { return k.curve }
func (k KeyRef) Slot() string        { return k.slot }
func (k KeyRef) Name() string        { return k.name }
func (k KeyRef) IsZero() bool        { return k.kind == 0 }

// String never includes key material.
func (k KeyRef) String() string {
	switch k.kind {
	case KindRaw:
		return fmt.Sprintf("raw:%s", k.curve)
	case KindSlot:
		return "slot:" + k.slot
	case KindStored:
		return fmt.Sprintf("stored:%s:%s", k.curve, k.name)
	default:
		return "invalid"
	}
}
