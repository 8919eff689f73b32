package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"phiguard/internal/audit"
	txcontext "phiguard/pkg/platform/tx"
)

// Schema creates the audit tables. Entries are never updated; the checkpoint
// table holds at most one row.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id               BIGINT PRIMARY KEY,
	actor_id         TEXT NOT NULL,
	action           TEXT NOT NULL,
	resource_type    TEXT NOT NULL,
	resource_id      TEXT NOT NULL,
	result           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	purpose          TEXT NOT NULL,
	severity         TEXT NOT NULL,
	request_id       TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	prior_entry_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_ts_idx ON audit_entries (ts);
CREATE INDEX IF NOT EXISTS audit_entries_resource_idx ON audit_entries (resource_type, resource_id);
CREATE TABLE IF NOT EXISTS audit_checkpoint (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	through   BIGINT NOT NULL,
	hash      TEXT NOT NULL
);
`

const entryColumns = `id, actor_id, action, resource_type, resource_id, result,
	reason, purpose, severity, request_id, ts, prior_entry_hash`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entry. The primary key rejects a duplicate ID, so two
// processes racing on the same log cannot fork the chain silently.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	query := `INSERT INTO audit_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		int64(e.ID),
		e.ActorID,
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		string(e.Result),
		e.Reason,
		e.Purpose,
		string(e.Severity),
		e.RequestID,
		e.Timestamp,
		e.PriorEntryHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Head(ctx context.Context) (audit.Entry, bool, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries ORDER BY id DESC LIMIT 1`
	e, err := scanEntry(s.execer(ctx).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, fmt.Errorf("read audit head: %w", err)
	}
	return e, true, nil
}

func (s *Store) Scan(ctx context.Context, filter audit.Filter, after audit.EntryID, limit int) ([]audit.Entry, error) {
	where := []string{"id > $1"}
	args := []any{int64(after)}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Result != "" {
		add("result = $%d", string(filter.Result))
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if !filter.From.IsZero() {
		add("ts >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts < $%d", filter.To)
	}

	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func (s *Store) Checkpoint(ctx context.Context) (audit.Checkpoint, error) {
	var through int64
	var cp audit.Checkpoint
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT through, hash FROM audit_checkpoint WHERE singleton`).Scan(&through, &cp.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Checkpoint{}, nil
	}
	if err != nil {
		return audit.Checkpoint{}, fmt.Errorf("read audit checkpoint: %w", err)
	}
	cp.Through = audit.EntryID(through)
	return cp, nil
}

// Prune deletes entries through cp and moves the checkpoint in one transaction.
func (s *Store) Prune(ctx context.Context, cp audit.Checkpoint) (int, error) {
	var n int64
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, _ *sql.Tx) error {
		db := s.execer(ctx)
		res, err := db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id <= $1`, int64(cp.Through))
		if err != nil {
			return fmt.Errorf("delete audit entries: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO audit_checkpoint (singleton, through, hash) VALUES (TRUE, $1, $2)
			ON CONFLICT (singleton) DO UPDATE SET through = EXCLUDED.through, hash = EXCLUDED.hash
			WHERE audit_checkpoint.through < EXCLUDED.through`,
			int64(cp.Through), cp.Hash)
		if err != nil {
			return fmt.Errorf("write audit checkpoint: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("count pruned entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (audit.Entry, error) {
	var (
		e                        audit.Entry
		id                       int64
		action, result, severity string
	)
	err := row.Scan(&id, &e.ActorID, &action, &e.ResourceType, &e.ResourceID, &result,
		&e.Reason, &e.Purpose, &severity, &e.RequestID, &e.Timestamp, &e.PriorEntryHash)
	if err != nil {
		return audit.Entry{}, err
	}
	e.ID = audit.EntryID(id)
	e.Action = audit.Action(action)
	e.Result = audit.Result(result)
	e.Severity = audit.Severity(severity)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
