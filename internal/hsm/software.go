package hsm

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/glinharesb/platform-go/internal/crypto"
)

type slotEntry struct {
	curve  crypto.Curve
	priv   []byte
	pub    []byte
	locked bool
}

var _ Locker = (*SoftwareHSM)(nil)

// SoftwareHSM is an in-process secure element for development and testing.
// In production, this would be replaced by a hardware-backed provider.
type SoftwareHSM struct {
	mu    sync.RWMutex
	slots map[string]*slotEntry
}

func NewSoftwareHSM() *SoftwareHSM {
	return &SoftwareHSM{
		slots: make(map[string]*slotEntry),
	}
}

func (s *SoftwareHSM) GenerateKey(curve crypto.Curve) (string, error) {
	priv, err := crypto.GenerateKey(curve)
	if err != nil {
		return "", err
	}
	return s.install(uuid.NewString(), curve, priv)
}

func (s *SoftwareHSM) install(slot string, curve crypto.Curve, priv []byte) (string, error) {
	pub, err := crypto.PublicKey(curve, priv)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.slots[slot]; exists {
		return "", fmt.Errorf("slot %s already in use", slot)
	}
	s.slots[slot] = &slotEntry{curve: curve, priv: priv, pub: pub}
	return slot, nil
}

func (s *SoftwareHSM) KeyInfo(slot string) (KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.slots[slot]
	if !ok {
		return KeyInfo{}, ErrSlotNotFound
	}
	return KeyInfo{
		Slot:      slot,
		Curve:     e.curve,
		PublicKey: append([]byte(nil), e.pub...),
		Locked:    e.locked,
	}, nil
}

func (s *SoftwareHSM) Sign(slot string, digest []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.slots[slot]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if e.locked {
		return nil, ErrSlotLocked
	}
	if len(digest) != e.curve.DigestSize() {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDigestLength, e.curve.DigestSize(), len(digest))
	}

	r, sc, _, err := crypto.SignDigest(e.curve, e.priv, digest)
	if err != nil {
		return nil, err
	}

	n := e.curve.ScalarSize()
	sig := make([]byte, 2*n)
	r.FillBytes(sig[:n])
	sc.FillBytes(sig[n:])
	return sig, nil
}

func (s *SoftwareHSM) Random(p []byte) error {
	_, err := rand.Read(p)
	return err
}

func (s *SoftwareHSM) DeleteKey(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.slots[slot]
	if !ok {
		return ErrSlotNotFound
	}
	clear(e.priv)
	delete(s.slots, slot)
	return nil
}

// Lock makes a slot refuse to sign until Unlock is called.
func (s *SoftwareHSM) Lock(slot string) error {
	return s.setLocked(slot, true)
}

func (s *SoftwareHSM) Unlock(slot string) error {
	return s.setLocked(slot, false)
}

func (s *SoftwareHSM) setLocked(slot string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.slots[slot]
	if !ok {
		return ErrSlotNotFound
	}
	e.locked = locked
	return nil
}
