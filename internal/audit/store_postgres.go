package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "civreg/pkg/domain"
	txcontext "civreg/pkg/platform/tx"
)

// PostgresStore persists audit entries using the transactional outbox
// pattern: Append writes both the queryable audit_entries row and an
// audit_outbox row in the same statement scope, so when the context carries
// the unit-of-work transaction, the business mutation, the audit entry, and
// the outbox event commit atomically. The relay worker drains the outbox to
// Kafka afterwards.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON document published to Kafka. Field names are the
// wire contract with downstream consumers.
type outboxPayload struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id,omitempty"`
	Timestamp  string `json:"timestamp"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	execer := s.execer(ctx)

	query := `
		INSERT INTO audit_entries (
			id, action, entity_type, entity_id, actor_id, timestamp,
			before_state, after_state, outcome, reason, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var actorID any
	if !entry.Actor.IsNil() {
		actorID = uuid.UUID(entry.Actor)
	}
	_, err := execer.ExecContext(ctx, query,
		entry.ID,
		string(entry.Action),
		entry.EntityType,
		entry.EntityID,
		actorID,
		entry.Timestamp,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		string(entry.Outcome),
		entry.Reason,
		entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(outboxPayload{
		ID:         entry.ID.String(),
		Action:     string(entry.Action),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		ActorID:    actorString(entry.Actor),
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Outcome:    string(entry.Outcome),
		Reason:     entry.Reason,
		RequestID:  entry.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO audit_outbox (event_key, payload, created_at)
		VALUES ($1, $2, $3)
	`, entry.EntityID, payload, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

func actorString(actor id.ActorID) string {
	if actor.IsNil() {
		return ""
	}
	return actor.String()
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(filter.EntityType))
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = "+arg(filter.EntityID))
	}
	if !filter.Actor.IsNil() {
		conditions = append(conditions, "actor_id = "+arg(uuid.UUID(filter.Actor)))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			actions[i] = string(action)
		}
		conditions = append(conditions, "action = ANY("+arg(pq.Array(actions))+")")
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "timestamp >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "timestamp <= "+arg(filter.To))
	}

	query := `
		SELECT id, action, entity_type, entity_id, actor_id, timestamp,
			   before_state, after_state, outcome, reason, request_id
		FROM audit_entries
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			action   string
			outcome  string
			actorID  *uuid.UUID
			before   []byte
			after    []byte
		)
		err := rows.Scan(
			&entry.ID,
			&action,
			&entry.EntityType,
			&entry.EntityID,
			&actorID,
			&entry.Timestamp,
			&before,
			&after,
			&outcome,
			&entry.Reason,
			&entry.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = Action(action)
		entry.Outcome = Outcome(outcome)
		entry.Before = before
		entry.After = after
		if actorID != nil {
			entry.Actor = id.ActorID(*actorID)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// NextBatch returns up to limit unpublished outbox rows in insert order.
func (s *PostgresStore) NextBatch(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_key, payload
		FROM audit_outbox
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.Key, &row.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// MarkPublished deletes published rows from the outbox.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_outbox WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// nullableJSON maps empty payloads onto SQL NULL instead of invalid empty JSON.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// OutOfBandPostgresStore writes audit entries on the pool directly, ignoring
// any transaction carried by the context. Denial and failure audits use it so
// they survive the rollback of the mutation they describe.
type OutOfBandPostgresStore struct {
	inner *PostgresStore
}

func NewOutOfBandPostgresStore(db *sql.DB) *OutOfBandPostgresStore {
	return &OutOfBandPostgresStore{inner: NewPostgresStore(db)}
}

func (s *OutOfBandPostgresStore) Append(ctx context.Context, entry Entry) error {
	return s.inner.Append(txcontext.Strip(ctx), entry)
}

func (s *OutOfBandPostgresStore) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return s.inner.Query(txcontext.Strip(ctx), filter)
}
