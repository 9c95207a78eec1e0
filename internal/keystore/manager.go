package keystore

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
)

var ErrLocationUnavailable = errors.New("key location not configured")

type ManagerOption func(*Manager)

// WithBlobs enables LocationStored keys. Scalars are sealed with sealer
// before they reach b; a nil sealer stores them raw.
func WithBlobs(b storage.Backend, sealer *crypto.Sealer) ManagerOption {
	return func(m *Manager) {
		m.blobs = b
		m.sealer = sealer
	}
}

// WithHSM enables LocationSlot keys.
func WithHSM(p hsm.Provider) ManagerOption {
	return func(m *Manager) { m.hsm = p }
}

func WithAudit(l *audit.Logger) ManagerOption {
	return func(m *Manager) { m.audit = l }
}

// Manager owns the key lifecycle and hands out signing.KeyRef values for
// active keys.
type Manager struct {
	store  Store
	blobs  storage.Backend
	sealer *crypto.Sealer
	hsm    hsm.Provider
	audit  *audit.Logger
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate creates a new active key on curve at loc.
func (m *Manager) Generate(curve crypto.Curve, loc Location, labels map[string]string) (*KeyEntry, error) {
	entry, err := m.generate(curve, loc, labels)
	if err != nil {
		m.audit.Result("GenerateKey", "", err, map[string]string{"curve": curve.String(), "location": loc.String()})
		return nil, err
	}
	m.audit.Log("GenerateKey", entry.ID, audit.StatusOK, "", map[string]string{
		"curve":    curve.String(),
		"location": loc.String(),
	})
	return entry, nil
}

func (m *Manager) generate(curve crypto.Curve, loc Location, labels map[string]string) (*KeyEntry, error) {
	if curve.DigestSize() == 0 {
		return nil, fmt.Errorf("%w: %d", crypto.ErrUnsupportedCurve, int(curve))
	}

	entry := &KeyEntry{
		ID:        uuid.NewString(),
		Curve:     curve,
		Location:  loc,
		Status:    StatusActive,
		CreatedAt: time.Now(),
		Labels:    maps.Clone(labels),
	}

	var rollback func()
	switch loc {
	case LocationStored:
		pub, err := m.storeScalar(entry.ID, curve)
		if err != nil {
			return nil, err
		}
		entry.PublicKey = pub
		rollback = func() { m.blobs.Remove(BlobName(entry.ID)) }
	case LocationSlot:
		if m.hsm == nil {
			return nil, fmt.Errorf("%w: %s", ErrLocationUnavailable, loc)
		}
		slot, err := m.hsm.GenerateKey(curve)
		if err != nil {
			return nil, fmt.Errorf("generate in secure element: %w", err)
		}
		info, err := m.hsm.KeyInfo(slot)
		if err != nil {
			m.hsm.DeleteKey(slot)
			return nil, fmt.Errorf("read slot %s: %w", slot, err)
		}
		entry.Slot = slot
		entry.PublicKey = info.PublicKey
		rollback = func() { m.hsm.DeleteKey(slot) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocationUnavailable, loc)
	}

	if err := m.store.Put(entry); err != nil {
		rollback()
		return nil, fmt.Errorf("store key: %w", err)
	}
	return entry, nil
}

// storeScalar generates a private scalar, seals it and writes it under
// BlobName(id). The plaintext is cleared before returning.
func (m *Manager) storeScalar(id string, curve crypto.Curve) ([]byte, error) {
	if m.blobs == nil {
		return nil, fmt.Errorf("%w: %s", ErrLocationUnavailable, LocationStored)
	}

	priv, err := crypto.GenerateKey(curve)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer clear(priv)

	pub, err := crypto.PublicKey(curve, priv)
	if err != nil {
		return nil, err
	}

	blob := priv
	if m.sealer != nil {
		blob, err = m.sealer.Seal(BlobName(id), priv)
		if err != nil {
			return nil, fmt.Errorf("seal key: %w", err)
		}
	}
	if err := m.blobs.Write(BlobName(id), blob); err != nil {
		return nil, fmt.Errorf("write key blob: %w", err)
	}
	return pub, nil
}

// Rotate replaces an active key with a fresh one on the same curve and
// location. The old key is marked rotated and stays resolvable through Get
// but no longer through Ref.
func (m *Manager) Rotate(id string) (old, replacement *KeyEntry, err error) {
	prev, err := m.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if prev.Status != StatusActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrKeyInactive, id, prev.Status)
	}

	replacement, err = m.generate(prev.Curve, prev.Location, prev.Labels)
	if err != nil {
		m.audit.Result("RotateKey", id, err, nil)
		return nil, nil, err
	}
	if err := m.store.UpdateStatus(id, StatusRotated); err != nil {
		m.discard(replacement)
		m.audit.Result("RotateKey", id, err, nil)
		return nil, nil, fmt.Errorf("update old key: %w", err)
	}

	old, err = m.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("key rotated", "old", id, "new", replacement.ID)
	m.audit.Log("RotateKey", id, audit.StatusOK, "", map[string]string{"new_key_id": replacement.ID})
	return old, replacement, nil
}

// discard drops a key that was created but never handed out.
func (m *Manager) discard(entry *KeyEntry) {
	switch entry.Location {
	case LocationStored:
		m.blobs.Remove(BlobName(entry.ID))
	case LocationSlot:
		m.hsm.DeleteKey(entry.Slot)
	}
	if err := m.store.Delete(entry.ID); err != nil {
		slog.Warn("discard replacement key", "id", entry.ID, "error", err)
	}
}

func (m *Manager) Deactivate(id string) error {
	err := m.store.UpdateStatus(id, StatusDeactivated)
	m.audit.Result("DeactivateKey", id, err, nil)
	return err
}

// Destroy removes the key's private material and then its metadata.
func (m *Manager) Destroy(id string) error {
	entry, err := m.store.Get(id)
	if err != nil {
		return err
	}

	switch entry.Location {
	case LocationStored:
		if m.blobs != nil {
			if err := m.blobs.Remove(BlobName(id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("remove key blob: %w", err)
			}
		}
	case LocationSlot:
		if m.hsm != nil {
			if err := m.hsm.DeleteKey(entry.Slot); err != nil && !errors.Is(err, hsm.ErrSlotNotFound) {
				return fmt.Errorf("delete slot %s: %w", entry.Slot, err)
			}
		}
	}

	err = m.store.Delete(id)
	m.audit.Result("DestroyKey", id, err, nil)
	return err
}

func (m *Manager) Get(id string) (*KeyEntry, error) {
	return m.store.Get(id)
}

func (m *Manager) List(filter KeyStatus) ([]*KeyEntry, error) {
	return m.store.List(filter)
}

// Ref returns the signing reference of an active key.
func (m *Manager) Ref(id string) (signing.KeyRef, error) {
	entry, err := m.store.Get(id)
	if err != nil {
		return signing.KeyRef{}, err
	}
	if entry.Status != StatusActive {
		return signing.KeyRef{}, fmt.Errorf("%w: %s is %s", ErrKeyInactive, id, entry.Status)
	}
	return entry.Ref(), nil
}
