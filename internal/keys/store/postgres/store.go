package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"phiguard/internal/keys"
	"phiguard/pkg/platform/sentinel"
	txcontext "phiguard/pkg/platform/tx"
)

// Schema creates the keys table. The partial unique index guarantees a
// single active key.
const Schema = `
CREATE TABLE IF NOT EXISTS encryption_keys (
	id              TEXT PRIMARY KEY,
	sealed_material BYTEA NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	retired_at      TIMESTAMPTZ,
	status          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS encryption_keys_one_active
	ON encryption_keys (status) WHERE status = 'active';
`

const keyColumns = `id, sealed_material, created_at, expires_at, retired_at, status`

// PostgresStore persists sealed keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed key store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Active(ctx context.Context) (*keys.StoredKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM encryption_keys WHERE status = 'active'`)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) Get(ctx context.Context, id keys.KeyID) (*keys.StoredKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM encryption_keys WHERE id = $1`, string(id))
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find key: %w", err)
	}
	return k, nil
}

// Rotate retires previous and inserts next in one transaction.
func (s *PostgresStore) Rotate(ctx context.Context, next keys.StoredKey, previous keys.KeyID, retiredAt time.Time) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if previous != "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE encryption_keys SET status = 'retired', retired_at = $2
				WHERE id = $1 AND status = 'active'`,
				string(previous), retiredAt)
			if err != nil {
				return fmt.Errorf("retire key: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("retire key: %w", err)
			}
			if n != 1 {
				return fmt.Errorf("retire key %s: %w", previous, sentinel.ErrInvalidState)
			}
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO encryption_keys (`+keyColumns+`)
			VALUES ($1, $2, $3, $4, NULL, 'active')`,
			string(next.ID), next.SealedMaterial, next.CreatedAt, next.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status keys.Status) ([]keys.StoredKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM encryption_keys WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []keys.StoredKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id keys.KeyID, status keys.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE encryption_keys SET status = $2 WHERE id = $1`, string(id), string(status))
	if err != nil {
		return fmt.Errorf("update key status: %w", err)
	}
	return requireOne(res)
}

func (s *PostgresStore) Delete(ctx context.Context, id keys.KeyID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM encryption_keys WHERE id = $1 AND status <> 'active'`, string(id))
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return requireOne(res)
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*keys.StoredKey, error) {
	var (
		k         keys.StoredKey
		id        string
		status    string
		retiredAt sql.NullTime
	)
	if err := row.Scan(&id, &k.SealedMaterial, &k.CreatedAt, &k.ExpiresAt, &retiredAt, &status); err != nil {
		return nil, err
	}
	k.ID = keys.KeyID(id)
	k.Status = keys.Status(status)
	if retiredAt.Valid {
		t := retiredAt.Time
		k.RetiredAt = &t
	}
	return &k, nil
}
