package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for MySQL connection pool
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"` // default 25
	MaxIdleConnections int           `yaml:"maxIdleConnections"` // default 5
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`    // default 5m
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`    // default 10m
}

// MySQL implements the Database interface using MySQL driver with connection pooling
// Each MySQL instance manages its own connection pool
type MySQL struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Database = (*MySQL)(nil)

// NewMySQLWithConfig creates a new MySQL database connection with custom configuration
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}

	// Set defaults if not specified
	if config.MaxOpenConnections == 0 {
		config.MaxOpenConnections = 25
	}
	if config.MaxIdleConnections == 0 {
		config.MaxIdleConnections = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 10 * time.Minute
	}

	db, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetMaxIdleConns(config.MaxIdleConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Verify the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQL{db: db}, nil
}

// Query executes a query that returns rows
func (m *MySQL) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &MySQLRows{rows: rows}, nil
}

// QueryRow executes a query that returns at most one row
func (m *MySQL) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &MySQLRow{row: m.db.QueryRowContext(ctx, query, args...)}
}

// Exec executes a query that doesn't return rows
func (m *MySQL) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return &MySQLResult{result: result}, nil
}

// Transaction executes a function within a database transaction.
// A panic inside fn rolls the transaction back before propagating.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	myTx := &MySQLTransaction{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = myTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(myTx); err != nil {
		_ = myTx.Rollback()
		return err
	}

	return myTx.Commit()
}

// BeginTx starts a new transaction with the given options
func (m *MySQL) BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error) {
	sqlOpts := ConvertTxOptions(opts)
	tx, err := m.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction failed: %w", err)
	}
	return &MySQLTransaction{tx: tx}, nil
}

// Ping verifies a connection to the database is still alive
func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (m *MySQL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

// MySQLRows implements the Rows interface
type MySQLRows struct {
	rows *sql.Rows
}

// Next prepares the next result row
func (r *MySQLRows) Next() bool {
	return r.rows.Next()
}

// Scan copies the columns from the current row into the values
func (r *MySQLRows) Scan(dest ...interface{}) error {
	if err := r.rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// Close closes the Rows
func (r *MySQLRows) Close() error {
	if err := r.rows.Close(); err != nil {
		return fmt.Errorf("close rows failed: %w", err)
	}
	return nil
}

// Err returns the error encountered during iteration
func (r *MySQLRows) Err() error {
	return r.rows.Err()
}

// MySQLRow implements the Row interface
type MySQLRow struct {
	row *sql.Row
}

// Scan copies the columns from the matched row
func (r *MySQLRow) Scan(dest ...interface{}) error {
	if err := r.row.Scan(dest...); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

// MySQLResult implements the Result interface
type MySQLResult struct {
	result sql.Result
}

// LastInsertId returns the last inserted ID
func (r *MySQLResult) LastInsertId() (int64, error) {
	id, err := r.result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id failed: %w", err)
	}
	return id, nil
}

// RowsAffected returns the number of rows affected
func (r *MySQLResult) RowsAffected() (int64, error) {
	affected, err := r.result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected failed: %w", err)
	}
	return affected, nil
}

// MySQLTransaction implements the Transaction interface
type MySQLTransaction struct {
	tx *sql.Tx
}

// Query executes a query within the transaction
func (t *MySQLTransaction) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction query failed: %w", err)
	}
	return &MySQLRows{rows: rows}, nil
}

// QueryRow executes a query that returns at most one row
func (t *MySQLTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return &MySQLRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

// Exec executes a query within the transaction
func (t *MySQLTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return &MySQLResult{result: result}, nil
}

// Commit commits the transaction
func (t *MySQLTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction
func (t *MySQLTransaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}
