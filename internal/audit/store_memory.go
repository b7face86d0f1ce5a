package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps entries in an append-only slice for unit tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	// Newest first.
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(entry Entry, filter Filter) bool {
	if filter.EntityType != "" && entry.EntityType != filter.EntityType {
		return false
	}
	if filter.EntityID != "" && entry.EntityID != filter.EntityID {
		return false
	}
	if !filter.Actor.IsNil() && entry.Actor != filter.Actor {
		return false
	}
	if len(filter.Actions) > 0 {
		found := false
		for _, action := range filter.Actions {
			if entry.Action == action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}
