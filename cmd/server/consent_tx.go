package main

import (
	"context"
	"database/sql"
	"time"

	consentservice "phiguard/internal/consent/service"
	consentstore "phiguard/internal/consent/store/postgres"
	dErrors "phiguard/pkg/domain-errors"
)

const defaultConsentTxTimeout = 5 * time.Second

// lockSubjectSQL serializes writers for one subject across processes until
// the transaction ends. Row locks alone do not cover a create racing a
// revoke-and-regrant for the same subject.
const lockSubjectSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

// consentPostgresTx is the cross-process counterpart of the sharded in-memory
// boundary: one transaction per mutation, one lock per subject.
type consentPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newConsentPostgresTx(db *sql.DB) *consentPostgresTx {
	return &consentPostgresTx{db: db, timeout: defaultConsentTxTimeout}
}

func (t *consentPostgresTx) RunInTx(ctx context.Context, fn func(store consentservice.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "consent transaction not started")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin consent transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if subject := consentservice.TxSubject(ctx); subject != "" {
		if _, err := tx.ExecContext(ctx, lockSubjectSQL, subject); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock consent subject")
		}
	}
	if err := fn(consentstore.NewPostgresTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit consent transaction")
	}
	return nil
}
