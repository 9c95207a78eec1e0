package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/storage"
)

// DefaultIndexName is where PersistentStore keeps its index.
const DefaultIndexName = "keystore/index.json"

// persistedKey is the JSON-serializable form of a KeyEntry.
type persistedKey struct {
	ID        string            `json:"id"`
	Curve     string            `json:"curve"`
	Location  string            `json:"location"`
	Status    KeyStatus         `json:"status"`
	Slot      string            `json:"slot,omitempty"`
	PublicKey []byte            `json:"public_key"`
	CreatedAt time.Time         `json:"created_at"`
	RotatedAt time.Time         `json:"rotated_at,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// PersistentStore wraps MemoryStore and writes the whole index to a storage
// backend after every mutation. A FileBackend makes each write an atomic
// rename.
type PersistentStore struct {
	*MemoryStore
	backend storage.Backend
	name    string

	// serializes mutate-then-save so saves land in mutation order
	writeMu sync.Mutex
}

// NewPersistentStore creates a store persisting to name in b. An existing
// index is loaded on startup (crash recovery).
func NewPersistentStore(b storage.Backend, name string) (*PersistentStore, error) {
	if name == "" {
		name = DefaultIndexName
	}
	ps := &PersistentStore{
		MemoryStore: NewMemoryStore(),
		backend:     b,
		name:        name,
	}

	err := ps.load()
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load existing index: %w", err)
	default:
		slog.Info("persistent key store loaded", "keys", len(ps.keys))
	}
	return ps, nil
}

func (ps *PersistentStore) Put(entry *KeyEntry) error {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	if err := ps.MemoryStore.Put(entry); err != nil {
		return err
	}
	if err := ps.save(); err != nil {
		ps.MemoryStore.Delete(entry.ID)
		return err
	}
	return nil
}

func (ps *PersistentStore) UpdateStatus(id string, status KeyStatus) error {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	prev, err := ps.MemoryStore.Get(id)
	if err != nil {
		return err
	}
	if err := ps.MemoryStore.UpdateStatus(id, status); err != nil {
		return err
	}
	if err := ps.save(); err != nil {
		ps.restore(prev)
		return err
	}
	return nil
}

func (ps *PersistentStore) Delete(id string) error {
	ps.writeMu.Lock()
	defer ps.writeMu.Unlock()

	prev, err := ps.MemoryStore.Get(id)
	if err != nil {
		return err
	}
	if err := ps.MemoryStore.Delete(id); err != nil {
		return err
	}
	if err := ps.save(); err != nil {
		ps.restore(prev)
		return err
	}
	return nil
}

// restore puts back the entry a failed save was about to persist over.
func (ps *PersistentStore) restore(prev *KeyEntry) {
	ps.mu.Lock()
	ps.keys[prev.ID] = prev
	ps.mu.Unlock()
}

func (ps *PersistentStore) save() error {
	ps.mu.RLock()
	keys := make([]persistedKey, 0, len(ps.keys))
	for _, e := range ps.keys {
		keys = append(keys, persistedKey{
			ID:        e.ID,
			Curve:     e.Curve.String(),
			Location:  e.Location.String(),
			Status:    e.Status,
			Slot:      e.Slot,
			PublicKey: e.PublicKey,
			CreatedAt: e.CreatedAt,
			RotatedAt: e.RotatedAt,
			Labels:    e.Labels,
		})
	}
	ps.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := ps.backend.Write(ps.name, data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (ps *PersistentStore) load() error {
	data, err := ps.backend.Read(ps.name, -1)
	if err != nil {
		return err
	}

	var keys []persistedKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	for _, pk := range keys {
		curve, err := crypto.ParseCurve(pk.Curve)
		if err != nil {
			return fmt.Errorf("key %s: %w", pk.ID, err)
		}
		loc, err := ParseLocation(pk.Location)
		if err != nil {
			return fmt.Errorf("key %s: %w", pk.ID, err)
		}
		ps.keys[pk.ID] = &KeyEntry{
			ID:        pk.ID,
			Curve:     curve,
			Location:  loc,
			Status:    pk.Status,
			Slot:      pk.Slot,
			PublicKey: pk.PublicKey,
			CreatedAt: pk.CreatedAt,
			RotatedAt: pk.RotatedAt,
			Labels:    pk.Labels,
		}
	}
	return nil
}
