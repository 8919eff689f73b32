// Package ports defines what the access engine needs from other modules.
// Each module is reached through an adapter so the engine never imports
// their internals.
package ports

import (
	"context"
	"time"

	"phiguard/internal/audit"
)

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks ConsentPort,AuditPort

// ConsentQuery asks for the consent covering one category of a request.
type ConsentQuery struct {
	SubjectID   string
	RequesterID string
	Category    string
	Purpose     string
	Region      string
	AsOf        time.Time
}

// ConsentMatch is the consent selected for a query.
type ConsentMatch struct {
	ConsentID string
	// Exact is false when the consent covers the category only through a
	// category group.
	Exact bool
}

// ConsentPort finds applicable consents. A nil match with a nil error means
// no consent applies.
type ConsentPort interface {
	FindApplicableConsent(ctx context.Context, q ConsentQuery) (*ConsentMatch, error)
}

// AuditPort appends decision entries to the audit log.
type AuditPort interface {
	Append(ctx context.Context, entry audit.Entry) (audit.EntryID, error)
}
