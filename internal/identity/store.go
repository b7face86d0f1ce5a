package identity

import (
	"context"

	id "civreg/pkg/domain"
)

// Store persists canonical identity records and verification history.
// Insert returns sentinel.ErrConflict when the number already exists; the
// issuance retry loop treats that as a collision, not a failure. Find
// returns sentinel.ErrNotFound for unknown numbers.
type Store interface {
	Insert(ctx context.Context, record *Record) error
	Find(ctx context.Context, nationalID id.NationalID) (*Record, error)
	// MaxSequenceForDay returns the highest daily sequence already issued for
	// the YYYYMMDD prefix, or 0 when none exist.
	MaxSequenceForDay(ctx context.Context, dayPrefix string) (int, error)
	AppendAttempt(ctx context.Context, attempt *VerificationAttempt) error
	ListAttempts(ctx context.Context, nationalID id.NationalID) ([]*VerificationAttempt, error)
}

// RecordCache is an optional read-through cache in front of Find. A nil
// cache disables caching; misses fall through to the store.
type RecordCache interface {
	Get(ctx context.Context, nationalID id.NationalID) (*Record, bool)
	Set(ctx context.Context, record *Record)
}
