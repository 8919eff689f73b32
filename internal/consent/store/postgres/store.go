package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"phiguard/internal/consent/models"
	"phiguard/pkg/platform/sentinel"
)

// Schema creates the consents table.
const Schema = `
CREATE TABLE IF NOT EXISTS consents (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	grantee          TEXT NOT NULL,
	data_categories  TEXT[] NOT NULL,
	time_limit_days  INTEGER,
	geographic_scope TEXT[] NOT NULL DEFAULT '{}',
	purposes         TEXT[] NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	granted_at       TIMESTAMPTZ,
	revoked_at       TIMESTAMPTZ,
	revoked_by       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS consents_subject_grantee_idx ON consents (subject_id, grantee);
CREATE INDEX IF NOT EXISTS consents_active_idx ON consents (status) WHERE status = 'active';
`

const consentColumns = `id, subject_id, grantee, data_categories, time_limit_days,
	geographic_scope, purposes, status, created_at, granted_at, revoked_at, revoked_by`

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists consents in PostgreSQL.
type PostgresStore struct {
	db dbExecutor
	// lockRows makes FindByID take a row lock; set when bound to a transaction.
	lockRows bool
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds a store to an open transaction. Reads by id lock the
// row until the transaction ends.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx, lockRows: true}
}

func (s *PostgresStore) Save(ctx context.Context, c *models.ConsentRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO consents (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(c.ID),
		c.SubjectID,
		c.Grantee,
		pq.Array(c.DataCategories),
		nullDays(c.Scope.TimeLimitDays),
		pq.Array(nonNil(c.Scope.GeographicScope)),
		pq.Array(nonNil(c.Scope.Purposes)),
		string(c.Status),
		c.CreatedAt,
		c.GrantedAt,
		c.RevokedAt,
		c.RevokedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

// Update writes the mutable lifecycle columns.
func (s *PostgresStore) Update(ctx context.Context, c *models.ConsentRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consents SET status = $2, granted_at = $3, revoked_at = $4, revoked_by = $5
		WHERE id = $1`,
		string(c.ID), string(c.Status), c.GrantedAt, c.RevokedAt, c.RevokedBy)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id models.ConsentID) (*models.ConsentRecord, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	if s.lockRows {
		query += ` FOR UPDATE`
	}
	c, err := scanConsent(s.db.QueryRowContext(ctx, query, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListBySubjectAndGrantee(ctx context.Context, subjectID, grantee string) ([]*models.ConsentRecord, error) {
	return s.list(ctx, `SELECT `+consentColumns+` FROM consents
		WHERE subject_id = $1 AND grantee = $2 ORDER BY created_at, id`, subjectID, grantee)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.ConsentRecord, error) {
	return s.list(ctx, `SELECT `+consentColumns+` FROM consents
		WHERE status = 'active' ORDER BY created_at, id`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*models.ConsentRecord
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.ConsentRecord, error) {
	var (
		c         models.ConsentRecord
		id        string
		status    string
		days      sql.NullInt32
		grantedAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&id,
		&c.SubjectID,
		&c.Grantee,
		pq.Array(&c.DataCategories),
		&days,
		pq.Array(&c.Scope.GeographicScope),
		pq.Array(&c.Scope.Purposes),
		&status,
		&c.CreatedAt,
		&grantedAt,
		&revokedAt,
		&c.RevokedBy,
	)
	if err != nil {
		return nil, err
	}
	c.ID = models.ConsentID(id)
	c.Status = models.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	if days.Valid {
		d := int(days.Int32)
		c.Scope.TimeLimitDays = &d
	}
	if grantedAt.Valid {
		t := grantedAt.Time.UTC()
		c.GrantedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		c.RevokedAt = &t
	}
	return &c, nil
}

// isUniqueViolation matches both lib/pq and pgx error types.
func isUniqueViolation(err error) bool {
	var state interface{ SQLState() string }
	return errors.As(err, &state) && state.SQLState() == "23505"
}

func nullDays(d *int) sql.NullInt32 {
	if d == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*d), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
