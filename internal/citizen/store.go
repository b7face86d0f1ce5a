package citizen

import (
	"context"

	id "civreg/pkg/domain"
)

// Store persists citizen records. Implementations return
// sentinel.ErrNotFound for missing records and sentinel.ErrConflict for
// duplicate inserts; services translate to coded errors.
//
// Update rewrites the full row. When the context carries a transaction
// (pkg/platform/tx), Postgres implementations execute inside it so the
// status mutation commits atomically with its audit record.
type Store interface {
	Create(ctx context.Context, c *Citizen) error
	Get(ctx context.Context, citizenID id.CitizenID) (*Citizen, error)
	Update(ctx context.Context, c *Citizen) error
	List(ctx context.Context, status RegistrationStatus) ([]*Citizen, error)
}
