package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/glinharesb/platform-go/internal/storage"
)

// TrustAnchors is the caller's set of trusted root certificates. The
// transport only reads it during a handshake. An empty set falls back to
// the system roots.
type TrustAnchors struct {
	certs []*x509.Certificate
}

func NewTrustAnchors(certs ...*x509.Certificate) *TrustAnchors {
	return &TrustAnchors{certs: certs}
}

// ParseTrustAnchors reads every CERTIFICATE block in a PEM bundle. Other
// block types are skipped.
func ParseTrustAnchors(bundle []byte) (*TrustAnchors, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, bundle = pem.Decode(bundle)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse trust anchor: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates in trust anchor bundle")
	}
	return &TrustAnchors{certs: certs}, nil
}

// LoadTrustAnchors reads a PEM bundle stored under name.
func LoadTrustAnchors(b storage.Backend, name string) (*TrustAnchors, error) {
	bundle, err := b.Read(name, -1)
	if err != nil {
		return nil, fmt.Errorf("load trust anchors %q: %w", name, err)
	}
	return ParseTrustAnchors(bundle)
}

func (a *TrustAnchors) Len() int {
	if a == nil {
		return 0
	}
	return len(a.certs)
}

// pool returns nil for an empty set so crypto/tls uses the system roots.
func (a *TrustAnchors) pool() *x509.CertPool {
	if a.Len() == 0 {
		return nil
	}
	p := x509.NewCertPool()
	for _, c := range a.certs {
		p.AddCert(c)
	}
	return p
}

// ClientConfig verifies peers named serverName against the anchors. It is
// also used for the gRPC channel to a remote secure element.
func (a *TrustAnchors) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName: serverName,
		RootCAs:    a.pool(),
		MinVersion: tls.VersionTLS12,
	}
}
