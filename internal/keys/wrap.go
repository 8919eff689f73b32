package keys

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

const wrapInfo = "phiguard key wrapping v1"

// Sealer wraps key material at rest under a key derived from a master
// secret. The key id is bound as associated data, so sealed material cannot
// be moved to another key row.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the wrapping key from master with HKDF-SHA256.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < KeySize {
		return nil, fmt.Errorf("master secret must be at least %d bytes", KeySize)
	}
	wrapKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(wrapInfo)), wrapKey); err != nil {
		return nil, fmt.Errorf("derive wrapping key: %w", err)
	}
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("create wrapping cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create wrapping gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewEphemeralSealer uses a random master secret. Keys sealed by it are lost
// with the process, which suits the in-memory store.
func NewEphemeralSealer() (*Sealer, error) {
	master := make([]byte, KeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("generate master secret: %w", err)
	}
	return NewSealer(master)
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(id KeyID, material []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, material, []byte(id)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(id KeyID, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, errors.New("sealed material too short")
	}
	material, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(id))
	if err != nil {
		return nil, fmt.Errorf("unseal key %s: %w", id, err)
	}
	return material, nil
}
