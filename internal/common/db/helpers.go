package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation inspects a MySQL duplicate key error and returns the key name.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrDupEntry {
		return ExtractDuplicateKeyName(myErr.Message), true
	}
	return "", false
}

// ExtractDuplicateKeyName parses duplicate key name from MySQL error message.
func ExtractDuplicateKeyName(message string) string {
	if message == "" {
		return ""
	}
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.TrimSpace(message[idx+len(marker):])
	return strings.Trim(key, " `\"'")
}

const (
	mysqlErrDupEntry            = 1062
	mysqlErrRowIsReferenced     = 1451
	mysqlErrNoReferencedRow     = 1452
	mysqlErrLockWaitTimeout     = 1205
	mysqlErrLockDeadlock        = 1213
	mysqlErrRowIsReferencedLong = 1217
)

// ForeignKeyViolation reports whether err is a MySQL foreign key failure,
// which the grading repositories see when a parent row was deleted mid-write.
func ForeignKeyViolation(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case mysqlErrRowIsReferenced, mysqlErrNoReferencedRow, mysqlErrRowIsReferencedLong:
		return true
	}
	return false
}

// IntegrityViolation reports whether err is a uniqueness or foreign key failure.
func IntegrityViolation(err error) bool {
	if _, ok := UniqueViolation(err); ok {
		return true
	}
	return ForeignKeyViolation(err)
}

// Retryable reports whether err is a transient lock conflict worth retrying.
func Retryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrLockDeadlock || myErr.Number == mysqlErrLockWaitTimeout
}
