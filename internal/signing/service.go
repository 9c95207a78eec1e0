package signing

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/storage"
)

var (
	ErrKeyNotFound               = errors.New("signing key not found")
	ErrKeyUnusable               = errors.New("signing key unusable")
	ErrDigestLengthMismatch      = errors.New("digest length mismatch")
	ErrSignatureEncodingOverflow = errors.New("signature encoding overflow")
	ErrSigningBackend            = errors.New("signing backend error")
)

// maxStoredKeySize bounds the read of a stored key blob (a sealed 32-byte
// scalar is 60 bytes).
const maxStoredKeySize = 512

// Signer produces elliptic-curve signatures over digests.
type Signer interface {
	Sign(ref KeyRef, digest []byte) (SignatureResult, error)
}

// Opener unseals stored key blobs. *crypto.Sealer implements it.
type Opener interface {
	Open(name string, sealed []byte) ([]byte, error)
}

type Option func(*Service)

// WithHSM routes slot references to a secure element.
func WithHSM(p hsm.Provider) Option {
	return func(s *Service) { s.hsm = p }
}

// WithStorage resolves stored references through b. A nil opener means
// blobs hold the raw scalar.
func WithStorage(b storage.Backend, opener Opener) Option {
	return func(s *Service) {
		s.storage = b
		s.opener = opener
	}
}

// WithFormats sets which encodings are populated. Zero is ignored.
func WithFormats(f Format) Option {
	return func(s *Service) {
		if f&FormatAll != 0 {
			s.formats = f & FormatAll
		}
	}
}

func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// Service dispatches a KeyRef to the backend that holds the key: raw and
// stored keys are signed in software, slot keys by the secure element.
// By default both encodings are populated; the recovery prefix is set only
// when the backend can derive it (software secp256k1).
type Service struct {
	hsm     hsm.Provider
	storage storage.Backend
	opener  Opener
	formats Format
	audit   *audit.Logger
}

func NewService(opts ...Option) *Service {
	s := &Service{formats: FormatAll}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign computes a signature over digest with the key behind ref. On failure
// the returned result is the zero value.
func (s *Service) Sign(ref KeyRef, digest []byte) (SignatureResult, error) {
	var (
		res SignatureResult
		err error
	)

	switch ref.Kind() {
	case KindRaw:
		res, err = s.signSoftware(ref.Curve(), ref.raw, digest)
	case KindStored:
		res, err = s.signStored(ref, digest)
	case KindSlot:
		res, err = s.signSlot(ref.Slot(), digest)
	default:
		err = fmt.Errorf("%w: invalid key reference", ErrKeyNotFound)
	}

	if err == nil {
		if verr := res.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", ErrSigningBackend, verr)
		}
	}

	s.audit.Result("Sign", ref.String(), err, map[string]string{"backend": ref.Kind().String()})
	if err != nil {
		slog.Debug("sign failed", "key", ref.String(), "error", err)
		return SignatureResult{}, err
	}
	return res, nil
}

func (s *Service) signSoftware(curve crypto.Curve, priv, digest []byte) (SignatureResult, error) {
	if err := checkDigest(curve, digest); err != nil {
		return SignatureResult{}, err
	}

	r, sc, recID, err := crypto.SignDigest(curve, priv, digest)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidPrivateKey) {
			return SignatureResult{}, fmt.Errorf("%w: %v", ErrKeyUnusable, err)
		}
		return SignatureResult{}, fmt.Errorf("%w: %v", ErrSigningBackend, err)
	}
	return s.encode(r, sc, recID)
}

func (s *Service) signStored(ref KeyRef, digest []byte) (SignatureResult, error) {
	if err := checkDigest(ref.Curve(), digest); err != nil {
		return SignatureResult{}, err
	}
	if s.storage == nil {
		return SignatureResult{}, fmt.Errorf("%w: no storage backend for %s", ErrSigningBackend, ref)
	}

	blob, err := s.storage.Read(ref.Name(), maxStoredKeySize)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SignatureResult{}, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
		}
		return SignatureResult{}, fmt.Errorf("%w: load %s: %v", ErrSigningBackend, ref, err)
	}
	defer clear(blob)

	priv := blob
	if s.opener != nil {
		priv, err = s.opener.Open(ref.Name(), blob)
		if err != nil {
			return SignatureResult{}, fmt.Errorf("%w: unseal %s: %v", ErrKeyUnusable, ref, err)
		}
		defer clear(priv)
	}
	return s.signSoftware(ref.Curve(), priv, digest)
}

func (s *Service) signSlot(slot string, digest []byte) (SignatureResult, error) {
	if s.hsm == nil {
		return SignatureResult{}, fmt.Errorf("%w: no secure element for slot %s", ErrSigningBackend, slot)
	}

	info, err := s.hsm.KeyInfo(slot)
	if err != nil {
		return SignatureResult{}, hsmError(slot, err)
	}
	if info.Locked {
		return SignatureResult{}, fmt.Errorf("%w: slot %s is locked", ErrKeyUnusable, slot)
	}
	if err := checkDigest(info.Curve, digest); err != nil {
		return SignatureResult{}, err
	}

	raw, err := s.hsm.Sign(slot, digest)
	if err != nil {
		return SignatureResult{}, hsmError(slot, err)
	}
	if len(raw) != 2*info.Curve.ScalarSize() {
		return SignatureResult{}, fmt.Errorf("%w: secure element returned %d-byte signature", ErrSigningBackend, len(raw))
	}

	r, sc, err := ParseNative(raw)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("%w: %v", ErrSigningBackend, err)
	}
	return s.encode(r, sc, crypto.NoRecoveryID)
}

// encode builds a result per the configured formats into a local value so
// that a failure never leaks a partially populated result.
func (s *Service) encode(r, sc *big.Int, recID int) (SignatureResult, error) {
	var res SignatureResult

	if s.formats&FormatNative != 0 {
		if err := encodeNative(&res.NativeSign, r, sc); err != nil {
			return SignatureResult{}, err
		}
		res.NativeFormatUsed = true
	}

	if s.formats&FormatPKCS != 0 {
		n, err := encodeDER(&res.PKCSSign, r, sc)
		if err != nil {
			return SignatureResult{}, err
		}
		res.PKCSSignLength = n
		res.PKCSFormatUsed = true
	}

	if recID != crypto.NoRecoveryID {
		res.SignPrefix = byte(recID)
		res.SignPrefixUsed = true
	}
	return res, nil
}

func checkDigest(curve crypto.Curve, digest []byte) error {
	want := curve.DigestSize()
	if want == 0 {
		return fmt.Errorf("%w: unsupported curve %s", ErrKeyUnusable, curve)
	}
	if len(digest) != want {
		return fmt.Errorf("%w: %s expects %d bytes, got %d", ErrDigestLengthMismatch, curve, want, len(digest))
	}
	return nil
}

func hsmError(slot string, err error) error {
	switch {
	case errors.Is(err, hsm.ErrSlotNotFound):
		return fmt.Errorf("%w: slot %s", ErrKeyNotFound, slot)
	case errors.Is(err, hsm.ErrSlotLocked):
		return fmt.Errorf("%w: slot %s is locked", ErrKeyUnusable, slot)
	case errors.Is(err, hsm.ErrDigestLength):
		return fmt.Errorf("%w: %v", ErrDigestLengthMismatch, err)
	default:
		return fmt.Errorf("%w: slot %s: %v", ErrSigningBackend, slot, err)
	}
}
