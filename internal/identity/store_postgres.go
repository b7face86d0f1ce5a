package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/sentinel"
	txcontext "civreg/pkg/platform/tx"
)

// PostgresStore persists canonical identity records and verification history.
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

func (s *PostgresStore) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO identity_records (national_id, full_name, date_of_birth, gender, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		record.NationalID.String(),
		record.FullName,
		record.DateOfBirth,
		record.Gender,
		record.IssuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, nationalID id.NationalID) (*Record, error) {
	query := `
		SELECT national_id, full_name, date_of_birth, gender, issued_at
		FROM identity_records
		WHERE national_id = $1
	`
	var (
		record Record
		number string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, nationalID.String()).Scan(
		&number,
		&record.FullName,
		&record.DateOfBirth,
		&record.Gender,
		&record.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identity record: %w", err)
	}
	record.NationalID = id.NationalID(number)
	return &record, nil
}

func (s *PostgresStore) MaxSequenceForDay(ctx context.Context, dayPrefix string) (int, error) {
	// Sequence digits are positions 9-12 of the 16-digit number.
	query := `
		SELECT COALESCE(MAX(CAST(SUBSTRING(national_id FROM 9 FOR 4) AS INTEGER)), 0)
		FROM identity_records
		WHERE national_id LIKE $1 || '%'
	`
	var max int
	if err := s.execer(ctx).QueryRowContext(ctx, query, dayPrefix).Scan(&max); err != nil {
		return 0, fmt.Errorf("max daily sequence: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) AppendAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	query := `
		INSERT INTO verification_attempts (national_id, valid, score, mismatches, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		attempt.NationalID.String(),
		attempt.Valid,
		attempt.Score,
		pq.Array(attempt.Mismatches),
		attempt.At,
	)
	if err != nil {
		return fmt.Errorf("insert verification attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, nationalID id.NationalID) ([]*VerificationAttempt, error) {
	query := `
		SELECT national_id, valid, score, mismatches, attempted_at
		FROM verification_attempts
		WHERE national_id = $1
		ORDER BY attempted_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, nationalID.String())
	if err != nil {
		return nil, fmt.Errorf("query verification attempts: %w", err)
	}
	defer rows.Close()

	var out []*VerificationAttempt
	for rows.Next() {
		var (
			attempt VerificationAttempt
			number  string
		)
		err := rows.Scan(&number, &attempt.Valid, &attempt.Score, pq.Array(&attempt.Mismatches), &attempt.At)
		if err != nil {
			return nil, fmt.Errorf("scan verification attempt: %w", err)
		}
		attempt.NationalID = id.NationalID(number)
		out = append(out, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification attempts: %w", err)
	}
	return out, nil
}
