package signing

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	// NativeSignSize holds r‖s for curves with scalars up to 256 bits.
	NativeSignSize = 64
	// MaxPKCSSignSize is sized for the largest ECDSA DER encoding the
	// platform accepts. Revisit if a curve wider than P-521 is ever added.
	MaxPKCSSignSize = 139
)

// Format selects which signature encodings a signer populates.
type Format uint8

const (
	FormatNative Format = 1 << iota
	FormatPKCS

	FormatAll = FormatNative | FormatPKCS
)

// ParseFormats accepts "all" or a comma-separated list of "native" and
// "pkcs".
func ParseFormats(s string) (Format, error) {
	var f Format
	for part := range strings.SplitSeq(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "all":
			f |= FormatAll
		case "native":
			f |= FormatNative
		case "pkcs", "der":
			f |= FormatPKCS
		case "":
		default:
			return 0, fmt.Errorf("unknown signature format %q", part)
		}
	}
	if f == 0 {
		return 0, fmt.Errorf("no signature format in %q", s)
	}
	return f, nil
}

// SignatureResult carries the output of one signing call. Each payload is
// meaningful only when its flag is set; callers must check the flag first.
type SignatureResult struct {
	NativeFormatUsed bool
	NativeSign       [NativeSignSize]byte

	PKCSFormatUsed bool
	PKCSSign       [MaxPKCSSignSize]byte
	PKCSSignLength uint32

	SignPrefixUsed bool
	SignPrefix     byte
}

// Native returns the fixed-width r‖s encoding if it was produced.
func (r *SignatureResult) Native() ([]byte, bool) {
	if !r.NativeFormatUsed {
		return nil, false
	}
	return r.NativeSign[:], true
}

// PKCS returns the DER encoding if it was produced.
func (r *SignatureResult) PKCS() ([]byte, bool) {
	if !r.PKCSFormatUsed || r.PKCSSignLength > MaxPKCSSignSize {
		return nil, false
	}
	return r.PKCSSign[:r.PKCSSignLength], true
}

// Prefix returns the recovery byte if the scheme produced one.
func (r *SignatureResult) Prefix() (byte, bool) {
	return r.SignPrefix, r.SignPrefixUsed
}

// Validate checks the structural invariants of a populated result.
func (r *SignatureResult) Validate() error {
	if !r.NativeFormatUsed && !r.PKCSFormatUsed {
		return errors.New("no signature format populated")
	}
	if r.PKCSSignLength > MaxPKCSSignSize {
		return fmt.Errorf("pkcs length %d exceeds capacity %d", r.PKCSSignLength, MaxPKCSSignSize)
	}
	if r.PKCSFormatUsed && r.PKCSSignLength == 0 {
		return errors.New("pkcs format flagged but empty")
	}
	if !r.PKCSFormatUsed && r.PKCSSignLength != 0 {
		return errors.New("pkcs length set without pkcs format")
	}
	return nil
}

// encodeNative writes r and s, each left-padded to half the native field.
func encodeNative(dst *[NativeSignSize]byte, r, s *big.Int) error {
	const half = NativeSignSize / 2
	if r.Sign() < 0 || s.Sign() < 0 || r.BitLen() > half*8 || s.BitLen() > half*8 {
		return fmt.Errorf("%w: scalar does not fit %d-byte native field", ErrSignatureEncodingOverflow, half)
	}
	r.FillBytes(dst[:half])
	s.FillBytes(dst[half:])
	return nil
}

// encodeDER writes SEQUENCE { INTEGER r, INTEGER s } and returns its length.
func encodeDER(dst *[MaxPKCSSignSize]byte, r, s *big.Int) (uint32, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	der, err := b.Bytes()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSigningBackend, err)
	}
	if len(der) > MaxPKCSSignSize {
		return 0, fmt.Errorf("%w: der signature is %d bytes, capacity %d", ErrSignatureEncodingOverflow, len(der), MaxPKCSSignSize)
	}
	copy(dst[:], der)
	return uint32(len(der)), nil
}

// ParseNative splits a fixed-width r‖s encoding.
func ParseNative(sig []byte) (r, s *big.Int, err error) {
	if len(sig) == 0 || len(sig)%2 != 0 {
		return nil, nil, fmt.Errorf("native signature has odd or zero length %d", len(sig))
	}
	half := len(sig) / 2
	return new(big.Int).SetBytes(sig[:half]), new(big.Int).SetBytes(sig[half:]), nil
}

// ParseDER decodes SEQUENCE { INTEGER r, INTEGER s }.
func ParseDER(sig []byte) (r, s *big.Int, err error) {
	var inner cryptobyte.String
	input := cryptobyte.String(sig)
	r, s = new(big.Int), new(big.Int)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, errors.New("malformed der signature")
	}
	return r, s, nil
}
