package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	txcontext "civreg/pkg/platform/tx"
)

// UnitOfWork is the atomicity boundary for one workflow operation. Run
// executes fn so that every store write fn performs commits or rolls back as
// a whole. The citizen ID scopes the unit: two units on the same citizen must
// serialize, units on different citizens may proceed concurrently.
type UnitOfWork interface {
	Run(ctx context.Context, citizenID id.CitizenID, fn func(ctx context.Context) error) error
}

// defaultUnitTimeout bounds a unit of work so a stuck lock or transaction
// cannot hold a request forever.
const defaultUnitTimeout = 5 * time.Second

// PostgresUnitOfWork opens a serializable transaction and stashes it in the
// context; stores built on pkg/platform/tx execute against it. When two units
// race on the same rows Postgres aborts one with a serialization failure; the
// aborted unit reruns once so it re-reads the committed state and the state
// machine, not the database, decides the outcome.
type PostgresUnitOfWork struct {
	db *sql.DB
}

func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

func (u *PostgresUnitOfWork) Run(ctx context.Context, _ id.CitizenID, fn func(ctx context.Context) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultUnitTimeout)
		defer cancel()
	}

	err := u.runOnce(ctx, fn)
	if err != nil && retryableTxError(err) {
		err = u.runOnce(ctx, fn)
	}
	return err
}

func (u *PostgresUnitOfWork) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := u.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "begin unit of work")
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return dErrors.Wrap(fmt.Errorf("%w (rollback: %v)", err, rbErr),
				dErrors.CodePersistence, "roll back unit of work")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "commit unit of work")
	}
	return nil
}

// Serialization failures and deadlocks are the two aborts a serializable
// transaction may legitimately rerun after.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}

// numShards distributes citizen-keyed locks. Sharding keeps contention local:
// racing operations on one citizen serialize while unrelated citizens stay
// independent.
const numShards = 128

// MemoryUnitOfWork serializes units per citizen with sharded mutexes. It
// backs the in-memory stores, which apply each write atomically on their own,
// so mutual exclusion over the read-modify-write sequence is all the unit
// needs.
type MemoryUnitOfWork struct {
	shards [numShards]sync.Mutex
}

func NewMemoryUnitOfWork() *MemoryUnitOfWork {
	return &MemoryUnitOfWork{}
}

func (u *MemoryUnitOfWork) Run(ctx context.Context, citizenID id.CitizenID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "unit of work aborted")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultUnitTimeout)
		defer cancel()
	}

	shard := shardFor(citizenID)
	u.shards[shard].Lock()
	defer u.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "unit of work aborted")
	}
	return fn(ctx)
}

func shardFor(citizenID id.CitizenID) int {
	h := fnv.New32a()
	h.Write([]byte(citizenID.String()))
	return int(h.Sum32() % numShards)
}
