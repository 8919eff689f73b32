package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"phiguard/internal/audit"
	"phiguard/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in a contiguous arena. entries[i] has ID
// base+i+1, so lookups by ID are index arithmetic and pruning drops a prefix.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    []audit.Entry
	base       audit.EntryID
	checkpoint audit.Checkpoint
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.base + audit.EntryID(len(s.entries)) + 1
	if entry.ID != next {
		return fmt.Errorf("append entry %d, expected %d: %w", entry.ID, next, sentinel.ErrConflict)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Head(_ context.Context) (audit.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return audit.Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *InMemoryStore) Scan(_ context.Context, filter audit.Filter, after audit.EntryID, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if after > s.base {
		start = int(after - s.base)
	}
	if !filter.From.IsZero() {
		// Timestamps are non-decreasing, so skip the prefix before From.
		skip := sort.Search(len(s.entries), func(i int) bool {
			return !s.entries[i].Timestamp.Before(filter.From)
		})
		start = max(start, skip)
	}

	var out []audit.Entry
	for i := start; i < len(s.entries); i++ {
		e := s.entries[i]
		if !filter.To.IsZero() && !e.Timestamp.Before(filter.To) {
			break
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Checkpoint(_ context.Context) (audit.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint, nil
}

func (s *InMemoryStore) Prune(_ context.Context, cp audit.Checkpoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.Through <= s.base {
		return 0, nil
	}
	n := min(int(cp.Through-s.base), len(s.entries))
	// Copy so the pruned prefix can be collected.
	s.entries = append([]audit.Entry(nil), s.entries[n:]...)
	s.base += audit.EntryID(n)
	s.checkpoint = cp
	return n, nil
}

// Tamper overwrites a stored entry in place. Tests use it to prove that
// verification notices edits.
func (s *InMemoryStore) Tamper(id audit.EntryID, mutate func(*audit.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= s.base || int(id-s.base) > len(s.entries) {
		return false
	}
	mutate(&s.entries[id-s.base-1])
	return true
}
