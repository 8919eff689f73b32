package encryption

import (
	"context"
	"fmt"
	"maps"
)

// EncryptRecord returns a copy of record in which every named field holding
// a string or []byte is replaced by its EncryptedBlob. Fields that are
// absent or nil are skipped; all other fields pass through unchanged.
// The input record is not modified.
func (e *Engine) EncryptRecord(ctx context.Context, record Record, sensitiveFields []string) (Record, []FieldMetadata, error) {
	out := maps.Clone(record)
	if out == nil {
		out = Record{}
	}
	meta := make([]FieldMetadata, 0, len(sensitiveFields))

	for _, name := range sensitiveFields {
		v, ok := record[name]
		if !ok || v == nil {
			continue
		}
		var (
			plaintext []byte
			kind      ValueKind
		)
		switch val := v.(type) {
		case string:
			plaintext, kind = []byte(val), KindString
		case []byte:
			plaintext, kind = val, KindBytes
		default:
			return nil, nil, fmt.Errorf("%w: field %q has unsupported type %T", ErrEncryptionFailure, name, v)
		}

		blob, err := e.EncryptField(ctx, plaintext, name)
		if err != nil {
			return nil, nil, err
		}
		out[name] = blob
		meta = append(meta, FieldMetadata{
			FieldName: name,
			KeyID:     blob.KeyID,
			Algorithm: blob.Algorithm,
			CreatedAt: blob.CreatedAt,
			Kind:      kind,
		})
	}
	return out, meta, nil
}

// DecryptRecord reverses EncryptRecord using the metadata it returned.
func (e *Engine) DecryptRecord(ctx context.Context, record Record, metadata []FieldMetadata) (Record, error) {
	out := maps.Clone(record)
	if out == nil {
		out = Record{}
	}
	for _, m := range metadata {
		var blob EncryptedBlob
		switch v := record[m.FieldName].(type) {
		case EncryptedBlob:
			blob = v
		case *EncryptedBlob:
			if v == nil {
				return nil, fmt.Errorf("%w: field %q is nil", ErrDecryptionFailure, m.FieldName)
			}
			blob = *v
		default:
			return nil, fmt.Errorf("%w: field %q holds no ciphertext", ErrDecryptionFailure, m.FieldName)
		}
		if blob.FieldName != m.FieldName || blob.KeyID != m.KeyID {
			return nil, fmt.Errorf("%w: field %q does not match its metadata", ErrDecryptionFailure, m.FieldName)
		}

		plaintext, err := e.DecryptField(ctx, blob)
		if err != nil {
			return nil, err
		}
		if m.Kind == KindBytes {
			out[m.FieldName] = plaintext
		} else {
			out[m.FieldName] = string(plaintext)
		}
	}
	return out, nil
}
