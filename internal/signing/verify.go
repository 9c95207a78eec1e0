package signing

import (
	"errors"
	"math/big"

	"github.com/glinharesb/platform-go/internal/crypto"
)

// Verify checks every encoding present in res against pub and digest. It
// returns false if no encoding is present or any present one fails.
func Verify(curve crypto.Curve, pub, digest []byte, res SignatureResult) bool {
	checked := false

	if native, ok := res.Native(); ok {
		r, s, err := ParseNative(native)
		if err != nil || !crypto.VerifyDigest(curve, pub, digest, r, s) {
			return false
		}
		checked = true
	}

	if der, ok := res.PKCS(); ok {
		r, s, err := ParseDER(der)
		if err != nil || !crypto.VerifyDigest(curve, pub, digest, r, s) {
			return false
		}
		checked = true
	}

	return checked
}

// RecoverPublicKey recovers the secp256k1 signer's uncompressed public key
// from a result carrying a recovery prefix.
func RecoverPublicKey(res SignatureResult, digest []byte) ([]byte, error) {
	prefix, ok := res.Prefix()
	if !ok {
		return nil, errors.New("signature has no recovery prefix")
	}

	r, s, err := scalars(res)
	if err != nil {
		return nil, err
	}
	return crypto.RecoverPublicKey(digest, r, s, int(prefix))
}

func scalars(res SignatureResult) (r, s *big.Int, err error) {
	if native, ok := res.Native(); ok {
		return ParseNative(native)
	}
	if der, ok := res.PKCS(); ok {
		return ParseDER(der)
	}
	return nil, nil, errors.New("signature has no populated encoding")
}
