package memory

import (
	"context"
	"slices"
	"sync"

	"phiguard/internal/consent/models"
	"phiguard/pkg/platform/sentinel"
)

// InMemoryStore keeps consents in a map, indexed by subject. Records are
// copied on the way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	consents  map[models.ConsentID]*models.ConsentRecord
	bySubject map[string][]models.ConsentID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		consents:  make(map[models.ConsentID]*models.ConsentRecord),
		bySubject: make(map[string][]models.ConsentID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, consent *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.consents[consent.ID]; exists {
		return sentinel.ErrConflict
	}
	s.consents[consent.ID] = clone(consent)
	s.bySubject[consent.SubjectID] = append(s.bySubject[consent.SubjectID], consent.ID)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, consent *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.consents[consent.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing.SubjectID != consent.SubjectID {
		return sentinel.ErrInvalidState
	}
	s.consents[consent.ID] = clone(consent)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id models.ConsentID) (*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) ListBySubjectAndGrantee(_ context.Context, subjectID, grantee string) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConsentRecord
	for _, id := range s.bySubject[subjectID] {
		if c := s.consents[id]; c.Grantee == grantee {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ConsentRecord
	for _, c := range s.consents {
		if c.Status == models.StatusActive {
			out = append(out, clone(c))
		}
	}
	slices.SortFunc(out, func(a, b *models.ConsentRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func clone(c *models.ConsentRecord) *models.ConsentRecord {
	out := *c
	out.DataCategories = slices.Clone(c.DataCategories)
	out.Scope.GeographicScope = slices.Clone(c.Scope.GeographicScope)
	out.Scope.Purposes = slices.Clone(c.Scope.Purposes)
	if c.Scope.TimeLimitDays != nil {
		d := *c.Scope.TimeLimitDays
		out.Scope.TimeLimitDays = &d
	}
	if c.GrantedAt != nil {
		t := *c.GrantedAt
		out.GrantedAt = &t
	}
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}
