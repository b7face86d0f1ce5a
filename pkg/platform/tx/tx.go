package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context so stores participating in a
// unit of work execute against it instead of the pool.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}

// Strip returns a context without any stored transaction. Writers that must
// not ride the ambient unit of work, such as out-of-band audit appends, use
// it to force execution on the pool.
func Strip(ctx context.Context) context.Context {
	if _, ok := From(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey, (*sql.Tx)(nil))
}
