package tx

import (
	"context"
	"database/sql"
)

type txKey struct{}

// Executor is the query surface shared by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx carries sqlTx so stores called inside a unit of work share it.
func WithTx(ctx context.Context, sqlTx *sql.Tx) context.Context {
	if sqlTx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, sqlTx)
}

// From returns the transaction carried by ctx.
func From(ctx context.Context) (*sql.Tx, bool) {
	sqlTx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return sqlTx, ok
}

// Exec returns the transaction carried by ctx, or db outside a unit of work.
func Exec(ctx context.Context, db *sql.DB) Executor {
	if sqlTx, ok := From(ctx); ok {
		return sqlTx
	}
	return db
}
