package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"phiguard/internal/keys"
	"phiguard/pkg/platform/sentinel"
)

// InMemoryStore keeps sealed keys in a map.
type InMemoryStore struct {
	mu     sync.RWMutex
	keys   map[keys.KeyID]keys.StoredKey
	active keys.KeyID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{keys: make(map[keys.KeyID]keys.StoredKey)}
}

func (s *InMemoryStore) Active(_ context.Context) (*keys.StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return nil, sentinel.ErrNotFound
	}
	k := s.keys[s.active]
	return &k, nil
}

func (s *InMemoryStore) Get(_ context.Context, id keys.KeyID) (*keys.StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &k, nil
}

func (s *InMemoryStore) Rotate(_ context.Context, next keys.StoredKey, previous keys.KeyID, retiredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[next.ID]; exists {
		return sentinel.ErrConflict
	}
	if previous != "" {
		prev, ok := s.keys[previous]
		if !ok {
			return sentinel.ErrNotFound
		}
		if prev.Status != keys.StatusActive {
			return sentinel.ErrInvalidState
		}
		prev.Status = keys.StatusRetired
		prev.RetiredAt = &retiredAt
		s.keys[previous] = prev
	}
	s.keys[next.ID] = next
	s.active = next.ID
	return nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status keys.Status) ([]keys.StoredKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []keys.StoredKey
	for _, k := range s.keys {
		if k.Status == status {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, id keys.KeyID, status keys.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	k.Status = status
	s.keys[id] = k
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id keys.KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return sentinel.ErrNotFound
	}
	if s.active == id {
		return sentinel.ErrInvalidState
	}
	delete(s.keys, id)
	return nil
}
