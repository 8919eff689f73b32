package encryption

import (
	"time"

	"phiguard/internal/keys"
)

// Algorithm is the only cipher the engine produces or accepts.
const Algorithm = "AES-256-GCM"

const (
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes. Ciphertext is
	// always exactly len(plaintext) + TagSize.
	TagSize = 16
)

// EncryptedBlob is one encrypted field value.
type EncryptedBlob struct {
	Ciphertext []byte     `json:"ciphertext"`
	IV         []byte     `json:"iv"`
	KeyID      keys.KeyID `json:"key_id"`
	Algorithm  string     `json:"algorithm"`
	FieldName  string     `json:"field_name"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Record is a loosely shaped data record, keyed by field name.
type Record map[string]any

// ValueKind records the Go type an encrypted field had, so decryption can
// restore it.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindBytes  ValueKind = "bytes"
)

// FieldMetadata describes one field encrypted by EncryptRecord.
type FieldMetadata struct {
	FieldName string     `json:"field_name"`
	KeyID     keys.KeyID `json:"key_id"`
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"created_at"`
	Kind      ValueKind  `json:"kind"`
}
