package keys

import (
	"context"
	"time"

	"phiguard/internal/audit"
)

// Store persists sealed keys. Reads of a missing key return
// sentinel.ErrNotFound.
//
//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,Auditor
type Store interface {
	// Active returns the single active key.
	Active(ctx context.Context) (*StoredKey, error)
	Get(ctx context.Context, id KeyID) (*StoredKey, error)
	// Rotate saves next as active and, when previous is non-empty, marks it
	// retired at retiredAt. Both changes happen atomically.
	Rotate(ctx context.Context, next StoredKey, previous KeyID, retiredAt time.Time) error
	ListByStatus(ctx context.Context, status Status) ([]StoredKey, error)
	SetStatus(ctx context.Context, id KeyID, status Status) error
	Delete(ctx context.Context, id KeyID) error
}

// Auditor records key lifecycle events. Every rotation, expiry and purge is
// audited before it takes effect.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (audit.EntryID, error)
}
