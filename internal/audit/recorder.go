package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/requestcontext"
)

// Recorder is the write side of the audit trail.
//
// Record rides the caller's unit of work: if the durable write fails the
// enclosing transaction must fail as a whole, so errors are never swallowed.
//
// RecordOutOfBand writes through a store that does not look at the ambient
// transaction. It exists for denial/failure audits, which must survive the
// rollback of the business mutation they describe.
type Recorder struct {
	store     Store
	outOfBand Store
	log       *slog.Logger
}

// NewRecorder builds a recorder. outOfBand may equal store for in-memory
// setups where there is no transaction to escape.
func NewRecorder(store, outOfBand Store, log *slog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if outOfBand == nil {
		outOfBand = store
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, outOfBand: outOfBand, log: log.With("component", "audit")}, nil
}

// Record appends an entry inside the ambient unit of work.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if err := r.store.Append(ctx, r.finalize(ctx, entry)); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "append audit entry")
	}
	return nil
}

// RecordOutOfBand appends an entry on the separate path that survives
// rollback of the business transaction.
func (r *Recorder) RecordOutOfBand(ctx context.Context, entry Entry) error {
	if err := r.outOfBand.Append(ctx, r.finalize(ctx, entry)); err != nil {
		// A failure audit that cannot be written is itself a persistence
		// failure of the request; it must not vanish silently.
		r.log.ErrorContext(ctx, "failed to append out-of-band audit entry",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodePersistence, "append audit entry")
	}
	return nil
}

func (r *Recorder) finalize(ctx context.Context, entry Entry) Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	return entry
}

// Query returns entries matching the filter, newest first.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "query audit entries")
	}
	return entries, nil
}
