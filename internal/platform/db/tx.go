package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const DBTxKey contextKey = "db_tx"

// Querier is the statement surface shared by pools, connections and
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Copier is implemented by queriers that support COPY FROM.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Savepointer manages named sub-transactions inside an open transaction.
type Savepointer interface {
	Savepoint(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
}

// Tx is an open transaction that supports savepoints.
type Tx interface {
	Querier
	Savepointer
}

// ContextWithTx attaches tx to ctx so repositories run their statements
// inside it.
func ContextWithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the transaction attached by ContextWithTx.
func TxFromContext(ctx context.Context) Tx {
	tx, _ := ctx.Value(DBTxKey).(Tx)
	return tx
}

// ErrNoTx is returned by operations that must run inside a session.
var ErrNoTx = errors.New("no database transaction in context")

// RequireTx is TxFromContext for callers that cannot run outside a
// transaction.
func RequireTx(ctx context.Context) (Tx, error) {
	if tx := TxFromContext(ctx); tx != nil {
		return tx, nil
	}
	return nil, ErrNoTx
}

// Conn returns the transaction in ctx, falling back to q.
func Conn(ctx context.Context, q Querier) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return q
}
