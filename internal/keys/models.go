package keys

import (
	"context"
	"time"
)

// KeyID identifies an encryption key. Blobs carry it so they can be
// decrypted after rotation.
type KeyID string

func (id KeyID) String() string {
	return string(id)
}

// Status is a key's lifecycle state: active -> retired -> expired.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
	StatusExpired Status = "expired"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a usable encryption key. Material must not be modified by callers.
type Key struct {
	ID        KeyID
	Material  []byte
	CreatedAt time.Time
	// ExpiresAt is the rotation deadline while the key is active.
	ExpiresAt time.Time
	RetiredAt *time.Time
	Status    Status
}

// StoredKey is the persisted form of a key; material is sealed.
type StoredKey struct {
	ID             KeyID
	SealedMaterial []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RetiredAt      *time.Time
	Status         Status
}

// ReferenceCounter reports how many encrypted blobs still reference a key.
// Purge refuses to delete a key while the count is non-zero.
type ReferenceCounter interface {
	CountReferences(ctx context.Context, id KeyID) (int, error)
}

// ReferenceCounterFunc adapts a function to ReferenceCounter.
type ReferenceCounterFunc func(ctx context.Context, id KeyID) (int, error)

func (f ReferenceCounterFunc) CountReferences(ctx context.Context, id KeyID) (int, error) {
	return f(ctx, id)
}
