package signing

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/storage"
)

var curves = []crypto.Curve{crypto.CurveSecp256k1, crypto.CurveP256}

func digestOf(msg string) []byte {
	d := sha256.Sum256([]byte(msg))
	return d[:]
}

func newKey(t *testing.T, curve crypto.Curve) (priv, pub []byte) {
	t.Helper()
	priv, err := crypto.GenerateKey(curve)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err = crypto.PublicKey(curve, priv)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return priv, pub
}

func TestSignRawRoundTrip(t *testing.T) {
	svc := NewService()
	for _, curve := range curves {
		t.Run(curve.String(), func(t *testing.T) {
			priv, pub := newKey(t, curve)
			digest := digestOf("transfer 10 tokens")

			res, err := svc.Sign(RawKey(curve, priv), digest)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if !res.NativeFormatUsed || !res.PKCSFormatUsed {
				t.Fatal("default policy should populate both encodings")
			}
			if res.PKCSSignLength == 0 || res.PKCSSignLength > MaxPKCSSignSize {
				t.Fatalf("bad pkcs length %d", res.PKCSSignLength)
			}
			if !Verify(curve, pub, digest, res) {
				t.Fatal("signature did not verify")
			}
		})
	}
}

func TestEncodingsAgree(t *testing.T) {
	svc := NewService()
	priv, _ := newKey(t, crypto.CurveP256)
	res, err := svc.Sign(RawKey(crypto.CurveP256, priv), digestOf("m"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	native, _ := res.Native()
	der, _ := res.PKCS()
	r1, s1, _ := ParseNative(native)
	r2, s2, err := ParseDER(der)
	if err != nil {
		t.Fatalf("parse der: %v", err)
	}
	if r1.Cmp(r2) != 0 || s1.Cmp(s2) != 0 {
		t.Fatal("native and der encodings carry different scalars")
	}
}

func TestSecp256k1PrefixRecoversKey(t *testing.T) {
	svc := NewService()
	priv, pub := newKey(t, crypto.CurveSecp256k1)
	digest := digestOf("recoverable")

	res, err := svc.Sign(RawKey(crypto.CurveSecp256k1, priv), digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	prefix, ok := res.Prefix()
	if !ok {
		t.Fatal("secp256k1 signature should carry a recovery prefix")
	}
	if prefix > 3 {
		t.Fatalf("unexpected prefix %d", prefix)
	}

	got, err := RecoverPublicKey(res, digest)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !bytes.Equal(got, pub) {
		t.Fatal("recovered key mismatch")
	}
}

func TestP256HasNoPrefix(t *testing.T) {
	svc := NewService()
	priv, _ := newKey(t, crypto.CurveP256)
	res, _ := svc.Sign(RawKey(crypto.CurveP256, priv), digestOf("m"))
	if _, ok := res.Prefix(); ok {
		t.Fatal("p256 signature should not carry a prefix")
	}
	if _, err := RecoverPublicKey(res, digestOf("m")); err == nil {
		t.Fatal("recover without prefix should fail")
	}
}

func TestFormatPolicy(t *testing.T) {
	priv, pub := newKey(t, crypto.CurveSecp256k1)
	digest := digestOf("policy")

	tests := []struct {
		name       string
		formats    Format
		wantNative bool
		wantPKCS   bool
	}{
		{"native only", FormatNative, true, false},
		{"pkcs only", FormatPKCS, false, true},
		{"both", FormatAll, true, true},
		{"zero falls back to default", 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(WithFormats(tt.formats))
			res, err := svc.Sign(RawKey(crypto.CurveSecp256k1, priv), digest)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if res.NativeFormatUsed != tt.wantNative || res.PKCSFormatUsed != tt.wantPKCS {
				t.Fatalf("flags: native=%v pkcs=%v", res.NativeFormatUsed, res.PKCSFormatUsed)
			}
			if !tt.wantPKCS && res.PKCSSignLength != 0 {
				t.Fatal("pkcs length set without pkcs format")
			}
			if !Verify(crypto.CurveSecp256k1, pub, digest, res) {
				t.Fatal("signature did not verify")
			}
		})
	}
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"all", FormatAll, true},
		{"native", FormatNative, true},
		{"PKCS", FormatPKCS, true},
		{"native, der", FormatAll, true},
		{"", 0, false},
		{"pem", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseFormats(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseFormats(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestDigestLengthMismatch(t *testing.T) {
	svc := NewService()
	for _, curve := range curves {
		priv, _ := newKey(t, curve)
		for _, n := range []int{0, 20, 31, 33, 64} {
			res, err := svc.Sign(RawKey(curve, priv), make([]byte, n))
			if !errors.Is(err, ErrDigestLengthMismatch) {
				t.Fatalf("%s/%d: expected ErrDigestLengthMismatch, got %v", curve, n, err)
			}
			if res != (SignatureResult{}) {
				t.Fatal("failed sign must return zero result")
			}
		}
	}
}

func TestRawKeyUnusable(t *testing.T) {
	svc := NewService()
	if _, err := svc.Sign(RawKey(crypto.CurveSecp256k1, make([]byte, 32)), digestOf("m")); !errors.Is(err, ErrKeyUnusable) {
		t.Fatalf("zero scalar: expected ErrKeyUnusable, got %v", err)
	}
	if _, err := svc.Sign(RawKey(crypto.Curve(99), []byte{1}), digestOf("m")); !errors.Is(err, ErrKeyUnusable) {
		t.Fatalf("unknown curve: expected ErrKeyUnusable, got %v", err)
	}
}

func TestInvalidKeyRef(t *testing.T) {
	svc := NewService()
	if _, err := svc.Sign(KeyRef{}, digestOf("m")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSignDoesNotMutateKey(t *testing.T) {
	svc := NewService()
	priv, _ := newKey(t, crypto.CurveSecp256k1)
	before := append([]byte(nil), priv...)
	svc.Sign(RawKey(crypto.CurveSecp256k1, priv), digestOf("m"))
	if !bytes.Equal(before, priv) {
		t.Fatal("sign mutated the caller's key")
	}
}

func TestSignStoredSealed(t *testing.T) {
	backend := storage.NewMemoryBackend()
	sealer, _ := crypto.NewSealer(bytes.Repeat([]byte{9}, 32))
	priv, pub := newKey(t, crypto.CurveSecp256k1)

	sealed, _ := sealer.Seal("keys/wallet", priv)
	backend.Write("keys/wallet", sealed)

	svc := NewService(WithStorage(backend, sealer))
	digest := digestOf("stored")
	res, err := svc.Sign(StoredKey(crypto.CurveSecp256k1, "keys/wallet"), digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(crypto.CurveSecp256k1, pub, digest, res) {
		t.Fatal("stored-key signature did not verify")
	}

	stored, _ := backend.Read("keys/wallet", -1)
	if !bytes.Equal(stored, sealed) {
		t.Fatal("sign must not modify the stored key")
	}
}

func TestSignStoredPlain(t *testing.T) {
	backend := storage.NewMemoryBackend()
	priv, pub := newKey(t, crypto.CurveP256)
	backend.Write("k", priv)

	svc := NewService(WithStorage(backend, nil))
	res, err := svc.Sign(StoredKey(crypto.CurveP256, "k"), digestOf("m"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(crypto.CurveP256, pub, digestOf("m"), res) {
		t.Fatal("did not verify")
	}
}

func TestSignStoredErrors(t *testing.T) {
	backend := storage.NewMemoryBackend()
	sealer, _ := crypto.NewSealer(bytes.Repeat([]byte{9}, 32))
	svc := NewService(WithStorage(backend, sealer))

	if _, err := svc.Sign(StoredKey(crypto.CurveSecp256k1, "missing"), digestOf("m")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing blob: expected ErrKeyNotFound, got %v", err)
	}

	backend.Write("garbage", []byte("not a sealed key at all, definitely"))
	if _, err := svc.Sign(StoredKey(crypto.CurveSecp256k1, "garbage"), digestOf("m")); !errors.Is(err, ErrKeyUnusable) {
		t.Fatalf("tampered blob: expected ErrKeyUnusable, got %v", err)
	}

	if _, err := NewService().Sign(StoredKey(crypto.CurveSecp256k1, "k"), digestOf("m")); !errors.Is(err, ErrSigningBackend) {
		t.Fatalf("no storage: expected ErrSigningBackend, got %v", err)
	}
}

func TestSignSlot(t *testing.T) {
	h := hsm.NewSoftwareHSM()
	svc := NewService(WithHSM(h))

	for _, curve := range curves {
		slot, _ := h.GenerateKey(curve)
		info, _ := h.KeyInfo(slot)
		digest := digestOf("slot")

		res, err := svc.Sign(SlotKey(slot), digest)
		if err != nil {
			t.Fatalf("sign %s: %v", curve, err)
		}
		if _, ok := res.Prefix(); ok {
			t.Fatal("secure element results carry no prefix")
		}
		if !Verify(curve, info.PublicKey, digest, res) {
			t.Fatalf("%s slot signature did not verify", curve)
		}
	}
}

func TestSignSlotErrors(t *testing.T) {
	h := hsm.NewSoftwareHSM()
	svc := NewService(WithHSM(h))
	slot, _ := h.GenerateKey(crypto.CurveP256)

	if _, err := svc.Sign(SlotKey("unknown"), digestOf("m")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := svc.Sign(SlotKey(slot), []byte("short")); !errors.Is(err, ErrDigestLengthMismatch) {
		t.Fatalf("expected ErrDigestLengthMismatch, got %v", err)
	}

	h.Lock(slot)
	if _, err := svc.Sign(SlotKey(slot), digestOf("m")); !errors.Is(err, ErrKeyUnusable) {
		t.Fatalf("expected ErrKeyUnusable, got %v", err)
	}

	if _, err := NewService().Sign(SlotKey(slot), digestOf("m")); !errors.Is(err, ErrSigningBackend) {
		t.Fatalf("no hsm: expected ErrSigningBackend, got %v", err)
	}
}

type brokenHSM struct{ hsm.Provider }

func (brokenHSM) KeyInfo(slot string) (hsm.KeyInfo, error) {
	return hsm.KeyInfo{Slot: slot, Curve: crypto.CurveP256}, nil
}

func (brokenHSM) Sign(string, []byte) ([]byte, error) {
	return nil, errors.New("i2c bus timeout")
}

func TestSignSlotBackendError(t *testing.T) {
	svc := NewService(WithHSM(brokenHSM{}))
	res, err := svc.Sign(SlotKey("s"), digestOf("m"))
	if !errors.Is(err, ErrSigningBackend) {
		t.Fatalf("expected ErrSigningBackend, got %v", err)
	}
	if res != (SignatureResult{}) {
		t.Fatal("failed sign must return zero result")
	}
}

func TestEncodeNativeOverflow(t *testing.T) {
	var dst [NativeSignSize]byte
	big33 := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := encodeNative(&dst, big33, big.NewInt(1)); !errors.Is(err, ErrSignatureEncodingOverflow) {
		t.Fatalf("expected ErrSignatureEncodingOverflow, got %v", err)
	}
}

func TestEncodeDEROverflow(t *testing.T) {
	var dst [MaxPKCSSignSize]byte
	huge := new(big.Int).Lsh(big.NewInt(1), 8*70)
	n, err := encodeDER(&dst, huge, huge)
	if !errors.Is(err, ErrSignatureEncodingOverflow) {
		t.Fatalf("expected ErrSignatureEncodingOverflow, got %v", err)
	}
	if n != 0 || dst != ([MaxPKCSSignSize]byte{}) {
		t.Fatal("overflow must not write a truncated encoding")
	}
}

func TestEncodeDERMaxP521Fits(t *testing.T) {
	var dst [MaxPKCSSignSize]byte
	// 521-bit scalars with the top bit set, as P-521 would produce
	max521 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 521), big.NewInt(1))
	n, err := encodeDER(&dst, max521, max521)
	if err != nil {
		t.Fatalf("p521-sized signature should fit: %v", err)
	}
	if n > MaxPKCSSignSize {
		t.Fatalf("length %d exceeds capacity", n)
	}
}

func TestParseDERRejectsTrailingData(t *testing.T) {
	var dst [MaxPKCSSignSize]byte
	n, _ := encodeDER(&dst, big.NewInt(5), big.NewInt(7))
	bad := append(append([]byte(nil), dst[:n]...), 0x00)
	if _, _, err := ParseDER(bad); err == nil {
		t.Fatal("trailing data should be rejected")
	}
}

func TestValidate(t *testing.T) {
	var empty SignatureResult
	if err := empty.Validate(); err == nil {
		t.Fatal("empty result should fail validation")
	}

	bad := SignatureResult{PKCSFormatUsed: true, PKCSSignLength: MaxPKCSSignSize + 1}
	if err := bad.Validate(); err == nil {
		t.Fatal("oversized pkcs length should fail validation")
	}
	if _, ok := bad.PKCS(); ok {
		t.Fatal("accessor must not expose oversized length")
	}
}

func TestVerifyRejectsEmpty(t *testing.T) {
	_, pub := newKey(t, crypto.CurveP256)
	if Verify(crypto.CurveP256, pub, digestOf("m"), SignatureResult{}) {
		t.Fatal("empty result must not verify")
	}
}

func TestSignAudited(t *testing.T) {
	logger := audit.NewLogger(10, nil)
	svc := NewService(WithAudit(logger))
	priv, _ := newKey(t, crypto.CurveP256)

	svc.Sign(RawKey(crypto.CurveP256, priv), digestOf("m"))
	svc.Sign(RawKey(crypto.CurveP256, priv), []byte("bad"))
	logger.Close()

	entries := logger.Query(audit.Filter{Operation: "Sign"})
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Status != audit.StatusError || entries[1].Status != audit.StatusOK {
		t.Fatalf("unexpected statuses: %s, %s", entries[0].Status, entries[1].Status)
	}
	for _, e := range entries {
		if bytes.Contains([]byte(e.Subject), priv) {
			t.Fatal("audit subject must not contain key material")
		}
	}
}

func BenchmarkSignSecp256k1(b *testing.B) {
	svc := NewService()
	priv, _ := crypto.GenerateKey(crypto.CurveSecp256k1)
	ref := RawKey(crypto.CurveSecp256k1, priv)
	digest := digestOf("bench")
	b.ResetTimer()
	for b.Loop() {
		svc.Sign(ref, digest)
	}
}
