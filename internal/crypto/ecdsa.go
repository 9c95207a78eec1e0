package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// NoRecoveryID is returned by SignDigest when the curve has no recovery byte.
const NoRecoveryID = -1

// compactMagic is the offset decred adds to the recovery code of a compact
// signature for an uncompressed public key.
const compactMagic = 27

var ErrInvalidPrivateKey = errors.New("invalid private key")

// GenerateKey creates a new private scalar for the given curve.
func GenerateKey(curve Curve) ([]byte, error) {
	switch curve {
	case CurveSecp256k1:
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate secp256k1 key: %w", err)
		}
		return key.Serialize(), nil
	case CurveP256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate p256 key: %w", err)
		}
		raw, err := key.Bytes()
		if err != nil {
			return nil, fmt.Errorf("encode p256 key: %w", err)
		}
		return raw, nil
	default:
		return nil, ErrUnsupportedCurve
	}
}

// PublicKey returns the uncompressed SEC1 public key for a private scalar.
func PublicKey(curve Curve, priv []byte) ([]byte, error) {
	switch curve {
	case CurveSecp256k1:
		key, err := secp256k1Key(priv)
		if err != nil {
			return nil, err
		}
		return key.PubKey().SerializeUncompressed(), nil
	case CurveP256:
		key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		pub, err := key.PublicKey.Bytes()
		if err != nil {
			return nil, fmt.Errorf("encode public key: %w", err)
		}
		return pub, nil
	default:
		return nil, ErrUnsupportedCurve
	}
}

// SignDigest signs a pre-hashed digest. The recovery id is NoRecoveryID for
// curves where the signer does not derive one.
func SignDigest(curve Curve, priv, digest []byte) (r, s *big.Int, recID int, err error) {
	if len(digest) != curve.DigestSize() {
		return nil, nil, NoRecoveryID, fmt.Errorf("digest must be %d bytes, got %d", curve.DigestSize(), len(digest))
	}

	switch curve {
	case CurveSecp256k1:
		key, err := secp256k1Key(priv)
		if err != nil {
			return nil, nil, NoRecoveryID, err
		}
		// [27+recid | r | s], low-S normalized
		compact := secpecdsa.SignCompact(key, digest, false)
		r = new(big.Int).SetBytes(compact[1:33])
		s = new(big.Int).SetBytes(compact[33:65])
		return r, s, int(compact[0]) - compactMagic, nil
	case CurveP256:
		key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), priv)
		if err != nil {
			return nil, nil, NoRecoveryID, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		r, s, err = ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, nil, NoRecoveryID, fmt.Errorf("ecdsa sign: %w", err)
		}
		return r, s, NoRecoveryID, nil
	default:
		return nil, nil, NoRecoveryID, ErrUnsupportedCurve
	}
}

// VerifyDigest checks an (r, s) signature over digest against an uncompressed public key.
func VerifyDigest(curve Curve, pub, digest []byte, r, s *big.Int) bool {
	if r == nil || s == nil || r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}

	switch curve {
	case CurveSecp256k1:
		key, err := secp256k1.ParsePubKey(pub)
		if err != nil {
			return false
		}
		var rs, ss secp256k1.ModNScalar
		if r.BitLen() > 256 || s.BitLen() > 256 {
			return false
		}
		if rs.SetByteSlice(r.Bytes()) || ss.SetByteSlice(s.Bytes()) {
			return false
		}
		return secpecdsa.NewSignature(&rs, &ss).Verify(digest, key)
	case CurveP256:
		key, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), pub)
		if err != nil {
			return false
		}
		return ecdsa.Verify(key, digest, r, s)
	default:
		return false
	}
}

// RecoverPublicKey recovers the uncompressed secp256k1 public key that produced
// (r, s) over digest, given the recovery id returned by SignDigest.
func RecoverPublicKey(digest []byte, r, s *big.Int, recID int) ([]byte, error) {
	if recID < 0 || recID > 3 {
		return nil, fmt.Errorf("invalid recovery id %d", recID)
	}
	if r.BitLen() > 256 || s.BitLen() > 256 {
		return nil, fmt.Errorf("signature scalar out of range")
	}

	compact := make([]byte, 65)
	compact[0] = byte(compactMagic + recID)
	r.FillBytes(compact[1:33])
	s.FillBytes(compact[33:65])

	key, _, err := secpecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, fmt.Errorf("recover public key: %w", err)
	}
	return key.SerializeUncompressed(), nil
}

func secp256k1Key(priv []byte) (*secp256k1.PrivateKey, error) {
	if len(priv) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidPrivateKey, len(priv))
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(priv); overflow || k.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidPrivateKey)
	}
	return secp256k1.NewPrivateKey(&k), nil
}
