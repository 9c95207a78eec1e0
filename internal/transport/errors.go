package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrConnectionFailed              = errors.New("connection failed")
	ErrCertificateVerificationFailed = errors.New("certificate verification failed")
	ErrHostNameMismatch              = errors.New("host name mismatch")
	ErrHandshakeFailed               = errors.New("tls handshake failed")
	ErrTransport                     = errors.New("transport error")
)

// classifyHandshake maps a TLS client handshake error onto the transport
// taxonomy. crypto/tls wraps verification failures in
// *tls.CertificateVerificationError, which unwraps to the x509 error.
func classifyHandshake(host string, err error) error {
	var (
		hostErr      x509.HostnameError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &hostErr):
		return fmt.Errorf("%w: %s: %v", ErrHostNameMismatch, host, err)
	case errors.As(err, &authorityErr), errors.As(err, &invalidErr):
		return fmt.Errorf("%w: %s: %v", ErrCertificateVerificationFailed, host, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %s: timed out: %v", ErrHandshakeFailed, host, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, host, err)
	}
}
