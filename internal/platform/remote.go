package platform

import (
	"fmt"
	"net"
	"os"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/config"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/random"
	"github.com/glinharesb/platform-go/internal/remote"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/transport"
)

func init() {
	Register("remote", OpenRemote)
}

// OpenRemote uses a platformd secure element at cfg.RemoteAddr for entropy,
// slot keys and general storage. Stored key blobs stay local.
func OpenRemote(cfg config.Config, a *audit.Logger) (*Platform, error) {
	return openRemote(cfg, a, remote.Options{})
}

func openRemote(cfg config.Config, a *audit.Logger, opts remote.Options) (*Platform, error) {
	formats, err := cfg.Formats()
	if err != nil {
		return nil, err
	}

	opts.Token = cfg.AuthToken
	opts.Timeout = cfg.CallTimeout
	if cfg.RemoteCA != "" {
		bundle, err := os.ReadFile(cfg.RemoteCA)
		if err != nil {
			return nil, fmt.Errorf("read remote CA: %w", err)
		}
		anchors, err := transport.ParseTrustAnchors(bundle)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(cfg.RemoteAddr)
		if err != nil {
			return nil, fmt.Errorf("remote address %q: %w", cfg.RemoteAddr, err)
		}
		opts.TLS = anchors.ClientConfig(host)
	}

	client, err := remote.Dial(cfg.RemoteAddr, opts)
	if err != nil {
		return nil, err
	}

	src := random.Func(client.Random)
	seal, err := sealer(cfg, src)
	if err != nil {
		client.Close()
		return nil, err
	}

	blobs, persistent, err := localStorage(cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	store, err := keyStore(blobs, persistent)
	if err != nil {
		client.Close()
		return nil, err
	}

	var general storage.Backend = client.Storage()
	if cfg.FixedLocation != "" {
		general = storage.NewFixedBackend(general, cfg.FixedLocation)
	}

	return &Platform{
		Backend: "remote",
		Random:  src,
		Signer: signing.NewService(
			signing.WithHSM(client),
			signing.WithStorage(blobs, seal),
			signing.WithFormats(formats),
			signing.WithAudit(a),
		),
		Transport: dialer(cfg, a),
		Storage:   general,
		Keys: keystore.NewManager(store,
			keystore.WithBlobs(blobs, seal),
			keystore.WithHSM(client),
			keystore.WithAudit(a),
		),
		HSM:     client,
		Sealer:  seal,
		closers: []func() error{client.Close},
	}, nil
}
