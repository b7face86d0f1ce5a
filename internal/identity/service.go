package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"civreg/internal/audit"
	"civreg/internal/platform/metrics"
	"civreg/internal/scoring"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/sentinel"
	"civreg/pkg/requestcontext"
)

// DefaultMaxIssueAttempts bounds the optimistic retry loop when generated
// numbers collide with concurrently issued ones.
const DefaultMaxIssueAttempts = 5

// Service issues identity numbers and verifies identity claims against the
// canonical record.
type Service struct {
	store       Store
	cache       RecordCache // may be nil
	scorer      scoring.Scorer
	maxAttempts int
	recorder    *audit.Recorder  // may be nil
	metrics     *metrics.Metrics // may be nil
	log         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache installs a read-through cache for canonical record lookups.
func WithCache(cache RecordCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithScorer replaces the baseline binary scorer.
func WithScorer(scorer scoring.Scorer) Option {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// WithMaxAttempts bounds the issuance retry loop.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRecorder attaches the audit trail: issuances and verification attempts
// are recorded alongside the registry writes.
func WithRecorder(r *audit.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMetrics attaches issuance/verification counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, log *slog.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		store:       store,
		scorer:      scoring.BinaryScorer{},
		maxAttempts: DefaultMaxIssueAttempts,
		log:         log.With("component", "identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue generates a collision-free identity number for the birth date and
// writes the canonical record. Format: YYYYMMDD + 4-digit zero-padded daily
// sequence + 4-digit random suffix. The sequence is strictly increasing per
// calendar day; uniqueness is confirmed by the insert, and a conflicting
// insert (two concurrent issuances racing on the same day) restarts
// generation up to the attempt budget.
func (s *Service) Issue(ctx context.Context, birthDate time.Time, fullName, gender string) (id.NationalID, error) {
	if birthDate.IsZero() {
		return "", dErrors.New(dErrors.CodeValidationFailed, "birth date is required")
	}
	dayPrefix := birthDate.Format("20060102")

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		number, err := s.generate(ctx, dayPrefix)
		if err != nil {
			return "", err
		}

		record := &Record{
			NationalID:  number,
			FullName:    fullName,
			DateOfBirth: birthDate.Format("2006-01-02"),
			Gender:      gender,
			IssuedAt:    requestcontext.Now(ctx),
		}
		err = s.store.Insert(ctx, record)
		if err == nil {
			if s.cache != nil {
				s.cache.Set(ctx, record)
			}
			if err := s.auditIssued(ctx, record); err != nil {
				return "", err
			}
			return number, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the race for this sequence number; regenerate.
			if s.metrics != nil {
				s.metrics.IssuanceRetries.Inc()
			}
			s.log.WarnContext(ctx, "identity number collision, retrying",
				"day_prefix", dayPrefix,
				"attempt", attempt,
			)
			continue
		}
		return "", dErrors.Wrap(err, dErrors.CodePersistence, "insert identity record")
	}

	if s.metrics != nil {
		s.metrics.IssuanceExhausted.Inc()
	}
	return "", dErrors.Newf(dErrors.CodeExhaustedRetries,
		"could not issue a unique identity number after %d attempts", s.maxAttempts)
}

func (s *Service) generate(ctx context.Context, dayPrefix string) (id.NationalID, error) {
	maxSeq, err := s.store.MaxSequenceForDay(ctx, dayPrefix)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodePersistence, "read daily sequence")
	}
	if maxSeq >= 9999 {
		return "", dErrors.New(dErrors.CodeExhaustedRetries, "daily sequence space exhausted")
	}

	suffix, err := randomSuffix()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate random suffix")
	}
	return id.NationalID(fmt.Sprintf("%s%04d%04d", dayPrefix, maxSeq+1, suffix)), nil
}

// issuedSnapshot is the audit wire shape for a freshly issued record.
type issuedSnapshot struct {
	NationalID  string `json:"national_id"`
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
}

func (s *Service) auditIssued(ctx context.Context, record *Record) error {
	if s.recorder == nil {
		return nil
	}
	after, err := json.Marshal(issuedSnapshot{
		NationalID:  record.NationalID.String(),
		FullName:    record.FullName,
		DateOfBirth: record.DateOfBirth,
		Gender:      record.Gender,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal issued record")
	}
	return s.recorder.Record(ctx, audit.Entry{
		Action:     audit.ActionIdentityIssued,
		EntityType: audit.EntityTypeIdentity,
		EntityID:   record.NationalID.String(),
		Actor:      requestcontext.ActorID(ctx),
		After:      after,
		Outcome:    audit.OutcomeApplied,
	})
}

func randomSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// Verify matches the claimed fields against the canonical record. An unknown
// number is a negative result, not an error. Every attempt is persisted as
// immutable verification history and, when a recorder is attached, recorded
// on the audit trail.
func (s *Service) Verify(ctx context.Context, nationalID id.NationalID, claims Claims) (VerificationResult, error) {
	record, err := s.lookup(ctx, nationalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			result := VerificationResult{
				NationalID: nationalID,
				Valid:      false,
				Score:      0,
				Mismatches: []string{MismatchNotFound},
			}
			if err := s.recordAttempt(ctx, result); err != nil {
				return VerificationResult{}, err
			}
			return result, nil
		}
		return VerificationResult{}, dErrors.Wrap(err, dErrors.CodePersistence, "load identity record")
	}

	claimed := scoring.Fields{FullName: claims.FullName, DateOfBirth: claims.DateOfBirth, Gender: claims.Gender}
	canonical := scoring.Fields{FullName: record.FullName, DateOfBirth: record.DateOfBirth, Gender: record.Gender}

	mismatches := scoring.Mismatches(claimed, canonical)
	result := VerificationResult{
		NationalID: nationalID,
		Valid:      len(mismatches) == 0,
		Score:      int(s.scorer.Score(claimed, canonical) * 100),
		Mismatches: mismatches,
	}
	if err := s.recordAttempt(ctx, result); err != nil {
		return VerificationResult{}, err
	}
	return result, nil
}

func (s *Service) lookup(ctx context.Context, nationalID id.NationalID) (*Record, error) {
	if s.cache != nil {
		if record, ok := s.cache.Get(ctx, nationalID); ok {
			return record, nil
		}
	}
	record, err := s.store.Find(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, record)
	}
	return record, nil
}

func (s *Service) recordAttempt(ctx context.Context, result VerificationResult) error {
	attempt := &VerificationAttempt{
		NationalID: result.NationalID,
		Valid:      result.Valid,
		Score:      result.Score,
		Mismatches: result.Mismatches,
		At:         requestcontext.Now(ctx),
	}
	if err := s.store.AppendAttempt(ctx, attempt); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "append verification attempt")
	}
	if s.metrics != nil {
		outcome := "mismatch"
		if result.Valid {
			outcome = "match"
		} else if len(result.Mismatches) == 1 && result.Mismatches[0] == MismatchNotFound {
			outcome = "not_found"
		}
		s.metrics.VerificationChecks.WithLabelValues(outcome).Inc()
	}
	if s.recorder != nil {
		outcome := audit.OutcomeApplied
		if !result.Valid {
			outcome = audit.OutcomeFailed
		}
		after, err := json.Marshal(result)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "marshal verification result")
		}
		return s.recorder.Record(ctx, audit.Entry{
			Action:     audit.ActionIdentityVerified,
			EntityType: audit.EntityTypeIdentity,
			EntityID:   result.NationalID.String(),
			Actor:      requestcontext.ActorID(ctx),
			After:      after,
			Outcome:    outcome,
			Reason:     strings.Join(result.Mismatches, ","),
		})
	}
	return nil
}

// History returns the immutable verification attempts for a number.
func (s *Service) History(ctx context.Context, nationalID id.NationalID) ([]*VerificationAttempt, error) {
	attempts, err := s.store.ListAttempts(ctx, nationalID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list verification attempts")
	}
	return attempts, nil
}
