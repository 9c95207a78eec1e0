package crypto

import "errors"

var ErrUnsupportedCurve = errors.New("unsupported curve")

// Curve identifies an elliptic curve supported by the platform.
type Curve int

const (
	CurveSecp256k1 Curve = iota + 1
	CurveP256
)

func (c Curve) String() string {
	switch c {
	case CurveSecp256k1:
		return "SECP256K1"
	case CurveP256:
		return "P256"
	default:
		return "UNKNOWN"
	}
}

// DigestSize is the digest length in bytes a signature on this curve expects.
func (c Curve) DigestSize() int {
	switch c {
	case CurveSecp256k1, CurveP256:
		return 32
	default:
		return 0
	}
}

// ScalarSize is the byte length of a private scalar and of each signature half.
func (c Curve) ScalarSize() int {
	switch c {
	case CurveSecp256k1, CurveP256:
		return 32
	default:
		return 0
	}
}

// ParseCurve maps a curve name as produced by String back to a Curve.
func ParseCurve(name string) (Curve, error) {
	switch name {
	case "SECP256K1", "secp256k1":
		return CurveSecp256k1, nil
	case "P256", "p256", "P-256", "secp256r1":
		return CurveP256, nil
	default:
		return 0, ErrUnsupportedCurve
	}
}
