package db

import (
	"context"
	"database/sql"
)

// Database is the subset of a SQL connection pool used by the repositories.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an open transaction. It satisfies Querier so repositories can
// run the same statements inside and outside a transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions mirrors sql.TxOptions.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions converts TxOptions to the database/sql form.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}
