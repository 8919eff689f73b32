// Package protect is the calling-layer guard for protected data: every read
// or write is checked by the access engine first and only an Allow reaches
// the encryption engine.
package protect

import (
	"context"
	"errors"
	"log/slog"

	"phiguard/internal/access"
	"phiguard/internal/encryption"
	"phiguard/pkg/requestcontext"
)

// ErrAccessDenied is returned with the Deny outcome.
var ErrAccessDenied = errors.New("access denied")

// Checker decides access requests.
type Checker interface {
	Check(ctx context.Context, req access.Request) access.Decision
}

// Cipher encrypts and decrypts protected fields.
type Cipher interface {
	DecryptField(ctx context.Context, blob encryption.EncryptedBlob) ([]byte, error)
	EncryptRecord(ctx context.Context, record encryption.Record, sensitiveFields []string) (encryption.Record, []encryption.FieldMetadata, error)
	DecryptRecord(ctx context.Context, record encryption.Record, metadata []encryption.FieldMetadata) (encryption.Record, error)
}

// Protector bundles the check-then-crypt pattern.
type Protector struct {
	checker Checker
	cipher  Cipher
	logger  *slog.Logger
}

func New(checker Checker, cipher Cipher, logger *slog.Logger) *Protector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protector{checker: checker, cipher: cipher, logger: logger}
}

// Read decrypts blob for req. The request action is always read.
func (p *Protector) Read(ctx context.Context, req access.Request, blob encryption.EncryptedBlob) ([]byte, access.Outcome, error) {
	req.Action = access.ActionRead
	outcome, err := p.check(ctx, req)
	if err != nil {
		return nil, outcome, err
	}
	plaintext, err := p.cipher.DecryptField(ctx, blob)
	if err != nil {
		p.logFailure(ctx, "decrypt field", err)
		return nil, outcome, err
	}
	return plaintext, outcome, nil
}

// ReadRecord decrypts every field described by metadata.
func (p *Protector) ReadRecord(ctx context.Context, req access.Request, record encryption.Record, metadata []encryption.FieldMetadata) (encryption.Record, access.Outcome, error) {
	req.Action = access.ActionRead
	outcome, err := p.check(ctx, req)
	if err != nil {
		return nil, outcome, err
	}
	out, err := p.cipher.DecryptRecord(ctx, record, metadata)
	if err != nil {
		p.logFailure(ctx, "decrypt record", err)
		return nil, outcome, err
	}
	return out, outcome, nil
}

// Write encrypts the named fields of record for req. The request action is
// always write.
func (p *Protector) Write(ctx context.Context, req access.Request, record encryption.Record, fields []string) (encryption.Record, []encryption.FieldMetadata, access.Outcome, error) {
	req.Action = access.ActionWrite
	outcome, err := p.check(ctx, req)
	if err != nil {
		return nil, nil, outcome, err
	}
	out, meta, err := p.cipher.EncryptRecord(ctx, record, fields)
	if err != nil {
		p.logFailure(ctx, "encrypt record", err)
		return nil, nil, outcome, err
	}
	return out, meta, outcome, nil
}

func (p *Protector) check(ctx context.Context, req access.Request) (access.Outcome, error) {
	decision := p.checker.Check(ctx, req)
	switch d := decision.(type) {
	case access.Allow:
		return d.Outcome(), nil
	case access.Deny:
		return d.Outcome(), ErrAccessDenied
	default:
		return access.Outcome{ReasonCode: access.ReasonInternalError}, ErrAccessDenied
	}
}

func (p *Protector) logFailure(ctx context.Context, op string, err error) {
	p.logger.ErrorContext(ctx, "protected data operation failed",
		"op", op,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
