package adapters

import (
	"context"

	"phiguard/internal/access/ports"
	consentModels "phiguard/internal/consent/models"
	consentService "phiguard/internal/consent/service"
)

// ConsentAdapter implements ports.ConsentPort by calling the consent service
// in process.
type ConsentAdapter struct {
	consent *consentService.Service
}

// NewConsentAdapter creates a new consent adapter.
func NewConsentAdapter(consent *consentService.Service) ports.ConsentPort {
	return &ConsentAdapter{consent: consent}
}

func (a *ConsentAdapter) FindApplicableConsent(ctx context.Context, q ports.ConsentQuery) (*ports.ConsentMatch, error) {
	match, err := a.consent.FindApplicableConsent(ctx, consentModels.Query{
		SubjectID:   q.SubjectID,
		RequesterID: q.RequesterID,
		Category:    q.Category,
		Purpose:     q.Purpose,
		Region:      q.Region,
		AsOf:        q.AsOf,
	})
	if err != nil || match == nil {
		return nil, err
	}
	return &ports.ConsentMatch{ConsentID: match.ConsentID.String(), Exact: match.Exact}, nil
}
