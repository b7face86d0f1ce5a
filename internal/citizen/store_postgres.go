package citizen

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
	txcontext "civreg/pkg/platform/tx"
)

// PostgresStore persists citizens in PostgreSQL. Status history is stored as
// JSONB alongside the row so history and status commit together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) Create(ctx context.Context, c *Citizen) error {
	history, err := json.Marshal(c.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}

	query := `
		INSERT INTO citizens (
			id, national_id, personal_data, biometric_data, document_data,
			status, rejection_reason, status_history, active, created_at, updated_at
		)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		c.NationalID.String(),
		nullableJSON(c.PersonalData),
		nullableJSON(c.BiometricData),
		nullableJSON(c.DocumentData),
		string(c.Status),
		c.RejectionReason,
		history,
		c.Active,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert citizen: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, citizenID id.CitizenID) (*Citizen, error) {
	query := `
		SELECT id, COALESCE(national_id, ''), personal_data, biometric_data,
			   document_data, status, rejection_reason, status_history,
			   active, created_at, updated_at
		FROM citizens
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(citizenID))
	c, err := scanCitizen(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get citizen: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *Citizen) error {
	history, err := json.Marshal(c.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}

	query := `
		UPDATE citizens
		SET national_id = NULLIF($2, ''), personal_data = $3, biometric_data = $4,
			document_data = $5, status = $6, rejection_reason = $7,
			status_history = $8, active = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		c.NationalID.String(),
		nullableJSON(c.PersonalData),
		nullableJSON(c.BiometricData),
		nullableJSON(c.DocumentData),
		string(c.Status),
		c.RejectionReason,
		history,
		c.Active,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update citizen: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update citizen rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, status RegistrationStatus) ([]*Citizen, error) {
	query := `
		SELECT id, COALESCE(national_id, ''), personal_data, biometric_data,
			   document_data, status, rejection_reason, status_history,
			   active, created_at, updated_at
		FROM citizens
		WHERE $1 = '' OR status = $1
		ORDER BY created_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list citizens: %w", err)
	}
	defer rows.Close()

	var out []*Citizen
	for rows.Next() {
		c, err := scanCitizen(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan citizen: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citizens: %w", err)
	}
	return out, nil
}

func scanCitizen(scan func(dest ...any) error) (*Citizen, error) {
	var (
		c          Citizen
		rowID      uuid.UUID
		nationalID string
		personal   []byte
		biometric  []byte
		document   []byte
		status     string
		history    []byte
	)
	err := scan(
		&rowID,
		&nationalID,
		&personal,
		&biometric,
		&document,
		&status,
		&c.RejectionReason,
		&history,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = id.CitizenID(rowID)
	c.NationalID = id.NationalID(nationalID)
	c.PersonalData = personal
	c.BiometricData = biometric
	c.DocumentData = document
	c.Status = RegistrationStatus(status)
	if err := json.Unmarshal(history, &c.StatusHistory); err != nil {
		return nil, fmt.Errorf("unmarshal status history: %w", err)
	}
	return &c, nil
}

// nullableJSON maps empty payloads onto SQL NULL instead of invalid empty JSON.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
