package service

import (
	"context"

	"phiguard/internal/audit"
	"phiguard/internal/consent/models"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store,Auditor

// Store persists consent records. Lookups return sentinel.ErrNotFound for
// unknown ids.
type Store interface {
	Save(ctx context.Context, consent *models.ConsentRecord) error
	Update(ctx context.Context, consent *models.ConsentRecord) error
	FindByID(ctx context.Context, id models.ConsentID) (*models.ConsentRecord, error)
	ListBySubjectAndGrantee(ctx context.Context, subjectID, grantee string) ([]*models.ConsentRecord, error)
	ListActive(ctx context.Context) ([]*models.ConsentRecord, error)
}

// Auditor records consent lifecycle transitions.
type Auditor interface {
	Append(ctx context.Context, entry audit.Entry) (audit.EntryID, error)
}
