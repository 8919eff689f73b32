// Package encryption performs AES-256-GCM field and record encryption with
// keys served by the key manager.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"phiguard/internal/keys"
)

// KeyProvider serves the active key for encryption and any usable key by id
// for decryption. *keys.Manager implements it.
type KeyProvider interface {
	ActiveKey(ctx context.Context) (keys.Key, error)
	Key(ctx context.Context, id keys.KeyID) (keys.Key, error)
}

// Engine encrypts and decrypts fields. It is safe for concurrent use.
type Engine struct {
	keys    KeyProvider
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func New(provider KeyProvider, opts ...Option) *Engine {
	e := &Engine{
		keys:   provider,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EncryptField encrypts plaintext under the active key with a fresh random
// IV. The field name and key id are bound as associated data, so a blob
// cannot be replayed into another field.
func (e *Engine) EncryptField(ctx context.Context, plaintext []byte, fieldName string) (blob EncryptedBlob, err error) {
	defer func() { e.metrics.observe("encrypt", err) }()

	key, err := e.keys.ActiveKey(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "encryption key unavailable", "field", fieldName, "error", err)
		return EncryptedBlob{}, fmt.Errorf("%w: key unavailable", ErrEncryptionFailure)
	}
	aead, err := newAEAD(key.Material)
	if err != nil {
		e.logger.ErrorContext(ctx, "cipher setup failed", "field", fieldName, "key_id", key.ID, "error", err)
		return EncryptedBlob{}, fmt.Errorf("%w: cipher setup", ErrEncryptionFailure)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		e.logger.ErrorContext(ctx, "iv generation failed", "error", err)
		return EncryptedBlob{}, fmt.Errorf("%w: iv generation", ErrEncryptionFailure)
	}

	return EncryptedBlob{
		Ciphertext: aead.Seal(nil, iv, plaintext, associatedData(fieldName, key.ID)),
		IV:         iv,
		KeyID:      key.ID,
		Algorithm:  Algorithm,
		FieldName:  fieldName,
		CreatedAt:  e.clock().UTC(),
	}, nil
}

// DecryptField authenticates and decrypts blob with the key it names. Any
// bit flipped in the ciphertext, IV, key id or field name fails with
// ErrDecryptionFailure.
func (e *Engine) DecryptField(ctx context.Context, blob EncryptedBlob) (plaintext []byte, err error) {
	defer func() { e.metrics.observe("decrypt", err) }()

	if blob.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrDecryptionFailure)
	}
	if len(blob.IV) != IVSize || len(blob.Ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: malformed blob", ErrDecryptionFailure)
	}

	key, err := e.keys.Key(ctx, blob.KeyID)
	if err != nil {
		e.logger.WarnContext(ctx, "decryption key unavailable", "field", blob.FieldName, "key_id", blob.KeyID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
	}
	aead, err := newAEAD(key.Material)
	if err != nil {
		e.logger.ErrorContext(ctx, "cipher setup failed", "field", blob.FieldName, "key_id", key.ID, "error", err)
		return nil, fmt.Errorf("%w: cipher setup", ErrDecryptionFailure)
	}

	plaintext, err = aead.Open(nil, blob.IV, blob.Ciphertext, associatedData(blob.FieldName, blob.KeyID))
	if err != nil {
		e.logger.WarnContext(ctx, "ciphertext failed authentication", "field", blob.FieldName, "key_id", blob.KeyID)
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailure)
	}
	return plaintext, nil
}

func newAEAD(material []byte) (cipher.AEAD, error) {
	if len(material) != keys.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keys.KeySize, len(material))
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func associatedData(fieldName string, keyID keys.KeyID) []byte {
	return []byte(fieldName + "|" + keyID.String())
}
