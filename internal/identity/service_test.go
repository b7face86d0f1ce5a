package identity

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civreg/internal/audit"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// =============================================================================
// Identity Service Test Suite
// =============================================================================
// Justification for unit tests: issuance uniqueness under contention and the
// verification matching rules are the core correctness surface of this
// package and need precise, store-independent exercise.

type IdentityServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	service *Service
}

func TestIdentityServiceSuite(t *testing.T) {
	suite.Run(t, new(IdentityServiceSuite))
}

func (s *IdentityServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()

	var err error
	s.service, err = NewService(s.store, slog.Default())
	s.Require().NoError(err)
}

var birthDate = time.Date(1990, 1, 5, 0, 0, 0, 0, time.UTC)

// =============================================================================
// Issuance Tests
// =============================================================================

func (s *IdentityServiceSuite) TestIssue() {
	ctx := context.Background()

	s.Run("number has the documented format", func() {
		number, err := s.service.Issue(ctx, birthDate, "Asha Mwinyi", "F")
		s.Require().NoError(err)

		s.Len(number.String(), id.NationalIDLength)
		s.Equal("19900105", number.DayPrefix())
		s.Equal("0001", number.String()[8:12], "first issuance of the day takes sequence 1")

		parsed, err := id.ParseNationalID(number.String())
		s.NoError(err)
		s.Equal(number, parsed)
	})

	s.Run("daily sequence strictly increases", func() {
		first, err := s.service.Issue(ctx, birthDate, "A", "F")
		s.Require().NoError(err)
		second, err := s.service.Issue(ctx, birthDate, "B", "M")
		s.Require().NoError(err)

		seqOf := func(n id.NationalID) int {
			seq, err := strconv.Atoi(n.String()[8:12])
			s.Require().NoError(err)
			return seq
		}
		s.Equal(seqOf(first)+1, seqOf(second))
	})

	s.Run("writes the canonical record once", func() {
		number, err := s.service.Issue(ctx, birthDate, "Asha Mwinyi", "F")
		s.Require().NoError(err)

		record, err := s.store.Find(ctx, number)
		s.NoError(err)
		s.Equal("Asha Mwinyi", record.FullName)
		s.Equal("1990-01-05", record.DateOfBirth)
	})

	s.Run("zero birth date is a validation failure", func() {
		_, err := s.service.Issue(ctx, time.Time{}, "A", "F")
		s.True(dErrors.HasCode(err, dErrors.CodeValidationFailed))
	})
}

func (s *IdentityServiceSuite) TestIssueConcurrent() {
	ctx := context.Background()
	const n = 32

	var wg sync.WaitGroup
	numbers := make([]id.NationalID, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			numbers[i], errs[i] = s.service.Issue(ctx, birthDate, "Citizen "+strconv.Itoa(i), "F")
		}(i)
	}
	wg.Wait()

	seen := make(map[id.NationalID]bool, n)
	for i := 0; i < n; i++ {
		s.Require().NoError(errs[i], "issuance %d", i)
		s.False(seen[numbers[i]], "duplicate number %s", numbers[i])
		seen[numbers[i]] = true
	}
}

// collidingStore forces Insert conflicts to exercise the retry budget.
type collidingStore struct {
	*InMemoryStore
	failures int
	mu       sync.Mutex
}

func (c *collidingStore) Insert(ctx context.Context, record *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return sentinel.ErrConflict
	}
	return c.InMemoryStore.Insert(ctx, record)
}

func (s *IdentityServiceSuite) TestIssueRetries() {
	ctx := context.Background()

	s.Run("recovers from transient collisions", func() {
		store := &collidingStore{InMemoryStore: NewInMemoryStore(), failures: 3}
		svc, err := NewService(store, slog.Default(), WithMaxAttempts(5))
		s.Require().NoError(err)

		number, err := svc.Issue(ctx, birthDate, "A", "F")
		s.NoError(err)
		s.False(number.IsZero())
	})

	s.Run("exhausts the attempt budget", func() {
		store := &collidingStore{InMemoryStore: NewInMemoryStore(), failures: 100}
		svc, err := NewService(store, slog.Default(), WithMaxAttempts(3))
		s.Require().NoError(err)

		_, err = svc.Issue(ctx, birthDate, "A", "F")
		s.True(dErrors.HasCode(err, dErrors.CodeExhaustedRetries))
	})
}

// =============================================================================
// Verification Tests
// =============================================================================

func (s *IdentityServiceSuite) issueCanonical() id.NationalID {
	number, err := s.service.Issue(context.Background(), birthDate, "Asha Mwinyi", "F")
	s.Require().NoError(err)
	return number
}

func (s *IdentityServiceSuite) TestVerify() {
	ctx := context.Background()

	s.Run("unknown number is a negative result, not an error", func() {
		result, err := s.service.Verify(ctx, id.NationalID("1990010500019999"), Claims{FullName: "Anyone"})
		s.NoError(err)
		s.False(result.Valid)
		s.Equal(0, result.Score)
		s.Equal([]string{MismatchNotFound}, result.Mismatches)
	})

	s.Run("exact match is valid with score 100", func() {
		number := s.issueCanonical()
		result, err := s.service.Verify(ctx, number, Claims{
			FullName: "Asha Mwinyi", DateOfBirth: "1990-01-05", Gender: "F",
		})
		s.NoError(err)
		s.True(result.Valid)
		s.Equal(100, result.Score)
		s.Empty(result.Mismatches)
	})

	s.Run("name comparison is case-insensitive", func() {
		number := s.issueCanonical()
		result, err := s.service.Verify(ctx, number, Claims{
			FullName: "  ASHA mwinyi ", DateOfBirth: "1990-01-05", Gender: "f",
		})
		s.NoError(err)
		s.True(result.Valid)
	})

	s.Run("mismatched fields are named", func() {
		number := s.issueCanonical()
		result, err := s.service.Verify(ctx, number, Claims{
			FullName: "Someone Else", DateOfBirth: "1991-02-06", Gender: "F",
		})
		s.NoError(err)
		s.False(result.Valid)
		s.Equal(0, result.Score)
		s.Equal([]string{"full_name", "date_of_birth"}, result.Mismatches)
	})
}

func (s *IdentityServiceSuite) TestVerificationHistory() {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	number := s.issueCanonical()

	_, err := s.service.Verify(ctx, number, Claims{FullName: "Wrong"})
	s.Require().NoError(err)
	_, err = s.service.Verify(ctx, number, Claims{FullName: "Asha Mwinyi", DateOfBirth: "1990-01-05", Gender: "F"})
	s.Require().NoError(err)

	history, err := s.service.History(ctx, number)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.False(history[0].Valid)
	s.True(history[1].Valid)
	s.Equal(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), history[0].At)
}

// =============================================================================
// Audit Trail Tests
// =============================================================================

func (s *IdentityServiceSuite) TestAuditTrail() {
	actor := id.NewActorID()
	ctx := requestcontext.WithActorID(context.Background(), actor)

	trail := audit.NewInMemoryStore()
	recorder, err := audit.NewRecorder(trail, nil, slog.Default())
	s.Require().NoError(err)
	svc, err := NewService(s.store, slog.Default(), WithRecorder(recorder))
	s.Require().NoError(err)

	number, err := svc.Issue(ctx, birthDate, "Asha Mwinyi", "F")
	s.Require().NoError(err)

	s.Run("issuance is audited", func() {
		issued, err := trail.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionIdentityIssued}})
		s.Require().NoError(err)
		s.Require().Len(issued, 1)
		s.Equal(number.String(), issued[0].EntityID)
		s.Equal(audit.EntityTypeIdentity, issued[0].EntityType)
		s.Equal(actor, issued[0].Actor)
		s.Equal(audit.OutcomeApplied, issued[0].Outcome)
		s.NotEmpty(issued[0].After)
	})

	s.Run("matched verification is audited as applied", func() {
		_, err := svc.Verify(ctx, number, Claims{FullName: "Asha Mwinyi", DateOfBirth: "1990-01-05", Gender: "F"})
		s.Require().NoError(err)

		verified, err := trail.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionIdentityVerified}})
		s.Require().NoError(err)
		s.Require().Len(verified, 1)
		s.Equal(audit.OutcomeApplied, verified[0].Outcome)
		s.Empty(verified[0].Reason)
	})

	s.Run("mismatched verification is audited as failed", func() {
		_, err := svc.Verify(ctx, number, Claims{FullName: "Someone Else", DateOfBirth: "1990-01-05", Gender: "F"})
		s.Require().NoError(err)

		verified, err := trail.Query(ctx, audit.Filter{Actions: []audit.Action{audit.ActionIdentityVerified}})
		s.Require().NoError(err)
		s.Require().Len(verified, 2)
		s.Equal(audit.OutcomeFailed, verified[0].Outcome, "newest first")
		s.Contains(verified[0].Reason, "full_name")
	})

	s.Run("unknown number is audited as failed with not-found", func() {
		_, err := svc.Verify(ctx, id.NationalID("1990010500019999"), Claims{FullName: "Anyone"})
		s.Require().NoError(err)

		verified, err := trail.Query(ctx, audit.Filter{EntityID: "1990010500019999"})
		s.Require().NoError(err)
		s.Require().Len(verified, 1)
		s.Equal(audit.OutcomeFailed, verified[0].Outcome)
		s.Equal(MismatchNotFound, verified[0].Reason)
	})
}

// mapCache is a minimal RecordCache for asserting read-through behavior.
type mapCache struct {
	mu      sync.Mutex
	records map[id.NationalID]*Record
	hits    int
}

func (m *mapCache) Get(_ context.Context, nationalID id.NationalID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[nationalID]
	if ok {
		m.hits++
	}
	return record, ok
}

func (m *mapCache) Set(_ context.Context, record *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.NationalID] = record
}

func (s *IdentityServiceSuite) TestCacheReadThrough() {
	ctx := context.Background()
	cache := &mapCache{records: make(map[id.NationalID]*Record)}
	svc, err := NewService(s.store, slog.Default(), WithCache(cache))
	s.Require().NoError(err)

	number, err := svc.Issue(ctx, birthDate, "Asha Mwinyi", "F")
	s.Require().NoError(err)

	claims := Claims{FullName: "Asha Mwinyi", DateOfBirth: "1990-01-05", Gender: "F"}
	for i := 0; i < 3; i++ {
		result, err := svc.Verify(ctx, number, claims)
		s.Require().NoError(err)
		s.True(result.Valid)
	}
	s.Equal(3, cache.hits, "issuance primes the cache; every lookup hits it")
}
