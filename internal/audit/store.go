package audit

import "context"

// Store persists entries durably. Implementations must make Append atomic:
// either the whole entry is stored or nothing is. IDs are assigned by Log, so
// a store rejects a duplicate ID instead of overwriting.
//
//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,EmergencyChannel
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// Head returns the entry with the highest ID; ok is false when the store is empty.
	Head(ctx context.Context) (entry Entry, ok bool, err error)
	// Scan returns up to limit entries with ID > after matching filter, ID ascending.
	Scan(ctx context.Context, filter Filter, after EntryID, limit int) ([]Entry, error)
	Checkpoint(ctx context.Context) (Checkpoint, error)
	// Prune deletes every entry with ID <= cp.Through and records cp.
	Prune(ctx context.Context, cp Checkpoint) (int, error)
}

// EmergencyChannel receives entries the primary store could not persist.
// It is a last-resort notification path, not a second source of truth.
type EmergencyChannel interface {
	Notify(ctx context.Context, entry Entry, cause error) error
}
