package audit

import "context"

// Store persists audit entries. Append participates in the ambient
// transaction when the context carries one (pkg/platform/tx), so a state
// mutation and its audit record commit or roll back together. Postgres
// implementations also write an outbox row in the same statement scope for
// the Kafka relay.
//
// Query is a read-side convenience outside the hot path; it never needs a
// transaction and may be served from a replica.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// OutboxStore is the relay worker's view of pending outbox rows.
type OutboxStore interface {
	// NextBatch returns up to limit unpublished outbox rows in insert order.
	NextBatch(ctx context.Context, limit int) ([]OutboxRow, error)
	// MarkPublished removes published rows from the pending set.
	MarkPublished(ctx context.Context, ids []int64) error
}

// OutboxRow is one pending audit event awaiting publication.
type OutboxRow struct {
	ID      int64
	Key     string
	Payload []byte
}
