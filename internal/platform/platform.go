// Package platform assembles the platform services (random source, signer,
// transport, storage and key manager) over one backend.
package platform

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/config"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/random"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/transport"
)

// GeneralPrefix namespaces Platform.Storage inside the local blob backend.
const GeneralPrefix = "blobs"

// Platform is the set of services a caller works against. Every field is
// set by a successful Open.
type Platform struct {
	Backend   string
	Random    random.Source
	Signer    signing.Signer
	Transport transport.Transport
	// Storage is the general blob store. Locally it is confined under
	// GeneralPrefix so it cannot reach the key blobs and index owned by Keys.
	Storage storage.Backend
	Keys    *keystore.Manager
	HSM     hsm.Provider
	// Sealer protects key blobs and, in platformd, served storage blobs.
	Sealer *crypto.Sealer

	closers []func() error
}

// Close releases backend resources. The audit logger passed to Open is not
// closed.
func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// localStorage picks the blob backend for key material: the OS keyring when
// a service name is configured, a directory under DataDir, or memory.
func localStorage(cfg config.Config) (storage.Backend, bool, error) {
	switch {
	case cfg.KeyringService != "":
		kc := storage.KeyringConfig{ServiceName: cfg.KeyringService}
		if cfg.DataDir != "" {
			kc.FileDir = filepath.Join(cfg.DataDir, "keyring")
		}
		b, err := storage.NewKeyringBackend(kc)
		return b, true, err
	case cfg.DataDir != "":
		b, err := storage.NewFileBackend(cfg.DataDir)
		return b, true, err
	default:
		return storage.NewMemoryBackend(), false, nil
	}
}

// sealer returns the configured sealer or an ephemeral one. Blobs sealed
// with an ephemeral root do not survive a restart.
func sealer(cfg config.Config, src random.Source) (*crypto.Sealer, error) {
	root, err := cfg.SealRoot()
	if err != nil {
		return nil, err
	}
	if root == nil {
		if root, err = random.Generate(src, 32); err != nil {
			return nil, err
		}
		slog.Warn("PLATFORM_SEAL_KEY not set, sealing with an ephemeral key")
	}
	defer clear(root)
	return crypto.NewSealer(root)
}

func keyStore(blobs storage.Backend, persistent bool) (keystore.Store, error) {
	if !persistent {
		return keystore.NewMemoryStore(), nil
	}
	return keystore.NewPersistentStore(blobs, "")
}

func dialer(cfg config.Config, a *audit.Logger) *transport.Dialer {
	return &transport.Dialer{
		Timeout:          cfg.DialTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IOTimeout:        cfg.IOTimeout,
		Audit:            a,
	}
}
