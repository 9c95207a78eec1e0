package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const sealInfoPrefix = "platform-seal:"

var ErrSealedBlob = errors.New("sealed blob is malformed or tampered")

// Sealer encrypts stored key blobs with AES-256-GCM. Each blob name gets its
// own key derived from the root secret with HKDF-SHA256, and the name is bound
// as additional authenticated data so blobs cannot be swapped between names.
type Sealer struct {
	root []byte
}

// NewSealer returns a sealer for the given root secret (at least 32 bytes).
func NewSealer(root []byte) (*Sealer, error) {
	if len(root) < 32 {
		return nil, fmt.Errorf("seal root must be at least 32 bytes, got %d", len(root))
	}
	return &Sealer{root: append([]byte(nil), root...)}, nil
}

// Seal returns [nonce | ciphertext | tag].
func (s *Sealer) Seal(name string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(name)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(name)), nil
}

// Open reverses Seal for the same name.
func (s *Sealer) Open(name string, sealed []byte) ([]byte, error) {
	gcm, err := s.aead(name)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize+gcm.Overhead() {
		return nil, ErrSealedBlob
	}

	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedBlob, err)
	}
	return plaintext, nil
}

func (s *Sealer) aead(name string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, s.root, nil, []byte(sealInfoPrefix+name))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes gcm: %w", err)
	}
	return gcm, nil
}
