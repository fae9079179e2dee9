// Package repository persists the grading hierarchy and its results in MySQL.
package repository

import (
	"context"
	_ "embed"
	"strings"

	"autograde/internal/common/db"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
)

//go:embed schema.sql
var Schema string

// StaticRepository loads the instructor-authored suite hierarchy.
type StaticRepository interface {
	GetSuite(ctx context.Context, tx db.Transaction, suiteID int64) (*model.Suite, error)
	ListSuites(ctx context.Context, tx db.Transaction, projectID int64) ([]model.Suite, error)
	// MoveCase reparents a case and its results in one transaction and returns
	// the affected submissions.
	MoveCase(ctx context.Context, caseID, newSuiteID int64) ([]int64, error)
}

// SubmissionRepository reads submissions and drives their status.
type SubmissionRepository interface {
	GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error)
	// UpdateStatus moves the submission to status if the transition is allowed
	// and returns the previous status.
	UpdateStatus(ctx context.Context, submissionID int64, status model.GradingStatus, errMsg string) (model.GradingStatus, error)
	UpdateDenormalizedResults(ctx context.Context, submissionID int64) (model.ResultTree, error)
	LoadResultTree(ctx context.Context, submissionID int64) (model.ResultTree, error)
}

// ResultRepository writes result rows. Integrity failures come back with the
// IntegrityViolation code and wrap the driver error.
type ResultRepository interface {
	GetOrCreateSuiteResult(ctx context.Context, tx db.Transaction, submissionID, suiteID int64) (*model.SuiteResult, error)
	UpdateSuiteResult(ctx context.Context, tx db.Transaction, result *model.SuiteResult) error
	GetOrCreateCaseResult(ctx context.Context, tx db.Transaction, suiteResultID, caseID int64) (*model.CaseResult, error)
	UpsertCommandResult(ctx context.Context, tx db.Transaction, result *model.CommandResult) error
}

// Repository is everything the orchestrator persists through.
type Repository interface {
	StaticRepository
	SubmissionRepository
	ResultRepository
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error
}

// MySQLRepository implements Repository.
type MySQLRepository struct {
	db db.Database
}

var _ Repository = (*MySQLRepository)(nil)

func NewRepository(database db.Database) *MySQLRepository {
	return &MySQLRepository{db: database}
}

func (r *MySQLRepository) database() (db.Database, error) {
	if r.db == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database unavailable")
	}
	return r.db, nil
}

func (r *MySQLRepository) querier(tx db.Transaction) (db.Querier, error) {
	if tx != nil {
		return tx, nil
	}
	return r.database()
}

func (r *MySQLRepository) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	database, err := r.database()
	if err != nil {
		return err
	}
	return database.Transaction(ctx, fn)
}

// Migrate creates the grading tables if they do not exist.
func Migrate(ctx context.Context, database db.Database) error {
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := database.Exec(ctx, stmt); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "migrate failed")
		}
	}
	return nil
}

// wrapWrite classifies a failed write.
func wrapWrite(err error, format string, args ...interface{}) error {
	if db.IntegrityViolation(err) {
		return appErr.Wrapf(err, appErr.IntegrityViolation, format, args...)
	}
	return appErr.Wrapf(err, appErr.DatabaseError, format, args...)
}

type scanner interface {
	Scan(dest ...interface{}) error
}
