package identity

import (
	"context"
	"strconv"
	"strings"
	"sync"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
)

// InMemoryStore keeps identity records and verification history in maps.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[id.NationalID]*Record
	attempts map[id.NationalID][]*VerificationAttempt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[id.NationalID]*Record),
		attempts: make(map[id.NationalID][]*VerificationAttempt),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.NationalID]; exists {
		return sentinel.ErrConflict
	}
	// The day prefix plus daily sequence (first 12 digits) must be unique on
	// their own; two numbers may not share a sequence and differ only in the
	// random suffix.
	newSeq := string(record.NationalID)[:12]
	for number := range s.records {
		if string(number)[:12] == newSeq {
			return sentinel.ErrConflict
		}
	}
	dup := *record
	s.records[record.NationalID] = &dup
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, nationalID id.NationalID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[nationalID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	dup := *record
	return &dup, nil
}

func (s *InMemoryStore) MaxSequenceForDay(_ context.Context, dayPrefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for number := range s.records {
		raw := string(number)
		if !strings.HasPrefix(raw, dayPrefix) || len(raw) < 12 {
			continue
		}
		seq, err := strconv.Atoi(raw[8:12])
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func (s *InMemoryStore) AppendAttempt(_ context.Context, attempt *VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *attempt
	dup.Mismatches = append([]string(nil), attempt.Mismatches...)
	s.attempts[attempt.NationalID] = append(s.attempts[attempt.NationalID], &dup)
	return nil
}

func (s *InMemoryStore) ListAttempts(_ context.Context, nationalID id.NationalID) ([]*VerificationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.attempts[nationalID]
	out := make([]*VerificationAttempt, len(history))
	for i, attempt := range history {
		dup := *attempt
		out[i] = &dup
	}
	return out, nil
}
