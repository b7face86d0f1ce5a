package citizen

import (
	"context"
	"sync"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

// InMemoryStore keeps citizens in a map for unit tests and local runs.
// Values are cloned on the way in and out so callers never share state.
type InMemoryStore struct {
	mu       sync.RWMutex
	citizens map[id.CitizenID]*Citizen
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{citizens: make(map[id.CitizenID]*Citizen)}
}

func (s *InMemoryStore) Create(_ context.Context, c *Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.citizens[c.ID]; exists {
		return sentinel.ErrConflict
	}
	s.citizens[c.ID] = c.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, citizenID id.CitizenID) (*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.citizens[citizenID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return c.clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, c *Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.citizens[c.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.citizens[c.ID] = c.clone()
	return nil
}

func (s *InMemoryStore) List(_ context.Context, status RegistrationStatus) ([]*Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Citizen
	for _, c := range s.citizens {
		if status == "" || c.Status == status {
			out = append(out, c.clone())
		}
	}
	return out, nil
}
