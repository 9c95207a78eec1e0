package storage

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringConfig selects the OS keyring used by KeyringBackend.
type KeyringConfig struct {
	ServiceName string
	// Backends restricts which keyring implementations may be used; empty
	// means whatever the platform offers.
	Backends []keyring.BackendType
	// FileDir and FilePassword configure the encrypted-file fallback.
	FileDir      string
	FilePassword string
}

// KeyringBackend keeps blobs in the OS keyring (Keychain, Secret Service,
// KWallet, WinCred or an encrypted file directory).
type KeyringBackend struct {
	ring keyring.Keyring
}

func NewKeyringBackend(cfg KeyringConfig) (*KeyringBackend, error) {
	kc := keyring.Config{
		ServiceName:     cfg.ServiceName,
		AllowedBackends: cfg.Backends,
		FileDir:         cfg.FileDir,
	}
	if cfg.FilePassword != "" {
		kc.FilePasswordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w: %v", ErrIO, err)
	}
	return &KeyringBackend{ring: ring}, nil
}

func (k *KeyringBackend) Size(name string) (int64, error) {
	item, err := k.ring.Get(name)
	if err != nil {
		return 0, keyringError("size", name, err)
	}
	return int64(len(item.Data)), nil
}

func (k *KeyringBackend) Read(name string, maxLen int) ([]byte, error) {
	item, err := k.ring.Get(name)
	if err != nil {
		return nil, keyringError("read", name, err)
	}
	return truncate(item.Data, maxLen), nil
}

func (k *KeyringBackend) Write(name string, data []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   name,
		Data:  append([]byte(nil), data...),
		Label: name,
	})
	if err != nil {
		return keyringError("write", name, err)
	}
	return nil
}

func (k *KeyringBackend) Remove(name string) error {
	if err := k.ring.Remove(name); err != nil {
		return keyringError("remove", name, err)
	}
	return nil
}

func keyringError(op, name string, err error) error {
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%s %q: %w", op, name, ErrNotFound)
	}
	return classify(op, name, err)
}
