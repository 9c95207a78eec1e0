package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/glinharesb/platform-go/internal/config"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/platform"
	"github.com/glinharesb/platform-go/internal/random"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/transport"
)

func main() {
	if err := run(os.Args[1:], config.Load(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, cfg config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("platform-probe", flag.ContinueOnError)
	var (
		backend   = fs.String("backend", cfg.Backend, "Platform backend to probe")
		curveName = fs.String("curve", "secp256k1", "Curve for the probe key (secp256k1 or p256)")
		location  = fs.String("location", "stored", "Where the probe key lives (stored or slot)")
		nrandom   = fs.Int("random", 32, "Number of random bytes to draw")
		peer      = fs.String("tls", "", "Optional host:port to open a TLS session to")
		caFile    = fs.String("ca", "", "PEM trust anchors for -tls (defaults to system roots)")
		timeout   = fs.Duration("timeout", 15*time.Second, "Deadline for connecting and handshaking with the -tls peer")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	curve, err := crypto.ParseCurve(*curveName)
	if err != nil {
		return err
	}
	loc, err := keystore.ParseLocation(*location)
	if err != nil {
		return err
	}

	p, err := platform.Open(*backend, cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Fprintf(out, "backend:   %s\n", p.Backend)

	buf, err := random.Generate(p.Random, *nrandom)
	if err != nil {
		return fmt.Errorf("random: %w", err)
	}
	fmt.Fprintf(out, "random:    %d bytes\n", len(buf))

	entry, err := p.Keys.Generate(curve, loc, map[string]string{"purpose": "probe"})
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	defer p.Keys.Destroy(entry.ID)
	fmt.Fprintf(out, "key:       %s (%s, %s)\n", entry.ID, entry.Curve, entry.Location)

	ref, err := p.Keys.Ref(entry.ID)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(buf)
	res, err := p.Signer.Sign(ref, digest[:])
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if !signing.Verify(curve, entry.PublicKey, digest[:], res) {
		return errors.New("signature did not verify")
	}
	if der, ok := res.PKCS(); ok {
		fmt.Fprintf(out, "signature: %s\n", hex.EncodeToString(der))
	}
	if prefix, ok := res.Prefix(); ok {
		fmt.Fprintf(out, "prefix:    %d\n", prefix)
	}

	if *peer == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return probeTLS(ctx, p.Transport, *peer, *caFile, out)
}

func probeTLS(ctx context.Context, t transport.Transport, address, caFile string, out io.Writer) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}

	var anchors *transport.TrustAnchors
	if caFile != "" {
		fb, err := storage.NewFileBackend(filepath.Dir(caFile))
		if err != nil {
			return err
		}
		if anchors, err = transport.LoadTrustAnchors(fb, filepath.Base(caFile)); err != nil {
			return err
		}
	}

	s, err := t.ConnectContext(ctx, address)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.EstablishTLSContext(ctx, host, anchors); err != nil {
		return err
	}
	cs, _ := s.ConnectionState()
	fmt.Fprintf(out, "tls:       %s %s\n", address, tls.VersionName(cs.Version))
	return nil
}
