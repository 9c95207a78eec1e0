package platform

import (
	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/config"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/random"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
)

func init() {
	Register("software", OpenSoftware)
}

// OpenSoftware runs every service in process: crypto/rand for entropy, a
// SoftwareHSM for slot keys and sealed blobs for stored keys.
func OpenSoftware(cfg config.Config, a *audit.Logger) (*Platform, error) {
	formats, err := cfg.Formats()
	if err != nil {
		return nil, err
	}

	src := random.NewSystemSource()
	seal, err := sealer(cfg, src)
	if err != nil {
		return nil, err
	}

	blobs, persistent, err := localStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := keyStore(blobs, persistent)
	if err != nil {
		return nil, err
	}

	var general storage.Backend = storage.NewPrefixBackend(blobs, GeneralPrefix)
	if cfg.FixedLocation != "" {
		general = storage.NewFixedBackend(general, cfg.FixedLocation)
	}

	h := hsm.NewSoftwareHSM()
	return &Platform{
		Backend: "software",
		Random:  src,
		Signer: signing.NewService(
			signing.WithHSM(h),
			signing.WithStorage(blobs, seal),
			signing.WithFormats(formats),
			signing.WithAudit(a),
		),
		Transport: dialer(cfg, a),
		Storage:   general,
		Keys: keystore.NewManager(store,
			keystore.WithBlobs(blobs, seal),
			keystore.WithHSM(h),
			keystore.WithAudit(a),
		),
		HSM:    h,
		Sealer: seal,
	}, nil
}
