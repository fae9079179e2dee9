package repository

import (
	"context"
	"database/sql"

	"autograde/internal/common/db"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
)

const suiteResultColumns = `id, submission_id, ag_test_suite_id, setup_return_code, setup_timed_out,
	setup_stdout_truncated, setup_stderr_truncated`

const commandResultColumns = `cmr.id, cmr.ag_test_case_result_id, cmr.ag_test_command_id, cmr.return_code,
	cmr.timed_out, cmr.stdout_truncated, cmr.stderr_truncated, cmr.return_code_correct,
	cmr.stdout_correct, cmr.stderr_correct`

// GetOrCreateSuiteResult inserts the (submission, suite) row, or returns the
// existing one when another grader won the race.
func (r *MySQLRepository) GetOrCreateSuiteResult(ctx context.Context, tx db.Transaction, submissionID, suiteID int64) (*model.SuiteResult, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	find := func(lock string) (*model.SuiteResult, error) {
		row := q.QueryRow(ctx, "SELECT "+suiteResultColumns+" FROM ag_test_suite_results WHERE submission_id = ? AND ag_test_suite_id = ?"+lock, submissionID, suiteID)
		return scanSuiteResult(row)
	}

	existing, err := find("")
	if err == nil {
		return existing, nil
	}
	if !db.IsNoRows(err) {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load suite result failed")
	}

	res, err := q.Exec(ctx, "INSERT INTO ag_test_suite_results (submission_id, ag_test_suite_id) VALUES (?, ?)", submissionID, suiteID)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			if existing, ferr := find(" FOR UPDATE"); ferr == nil {
				return existing, nil
			}
		}
		return nil, wrapWrite(err, "create suite result for submission %d suite %d failed", submissionID, suiteID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "read suite result id failed")
	}
	return &model.SuiteResult{ID: id, SubmissionID: submissionID, SuiteID: suiteID}, nil
}

// UpdateSuiteResult saves the setup fields.
func (r *MySQLRepository) UpdateSuiteResult(ctx context.Context, tx db.Transaction, result *model.SuiteResult) error {
	q, err := r.querier(tx)
	if err != nil {
		return err
	}
	res, err := q.Exec(ctx, `UPDATE ag_test_suite_results
		SET setup_return_code = ?, setup_timed_out = ?, setup_stdout_truncated = ?, setup_stderr_truncated = ?
		WHERE id = ?`,
		nullableInt(result.SetupReturnCode),
		result.SetupTimedOut,
		result.SetupStdoutTruncated,
		result.SetupStderrTruncated,
		result.ID,
	)
	if err != nil {
		return wrapWrite(err, "update suite result %d failed", result.ID)
	}
	// A concurrent delete leaves nothing to update.
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		exists, err := rowExists(ctx, q, "SELECT 1 FROM ag_test_suite_results WHERE id = ?", result.ID)
		if err != nil {
			return err
		}
		if !exists {
			return appErr.Newf(appErr.IntegrityViolation, "suite result %d was deleted", result.ID)
		}
	}
	return nil
}

// GetOrCreateCaseResult inserts the (suite result, case) row, or returns the
// existing one.
func (r *MySQLRepository) GetOrCreateCaseResult(ctx context.Context, tx db.Transaction, suiteResultID, caseID int64) (*model.CaseResult, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	find := func(lock string) (*model.CaseResult, error) {
		row := q.QueryRow(ctx, "SELECT id, ag_test_suite_result_id, ag_test_case_id FROM ag_test_case_results WHERE ag_test_suite_result_id = ? AND ag_test_case_id = ?"+lock, suiteResultID, caseID)
		var c model.CaseResult
		if err := row.Scan(&c.ID, &c.SuiteResultID, &c.CaseID); err != nil {
			return nil, err
		}
		return &c, nil
	}

	existing, err := find("")
	if err == nil {
		return existing, nil
	}
	if !db.IsNoRows(err) {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load case result failed")
	}

	res, err := q.Exec(ctx, "INSERT INTO ag_test_case_results (ag_test_suite_result_id, ag_test_case_id) VALUES (?, ?)", suiteResultID, caseID)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			if existing, ferr := find(" FOR UPDATE"); ferr == nil {
				return existing, nil
			}
		}
		return nil, wrapWrite(err, "create case result for suite result %d case %d failed", suiteResultID, caseID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "read case result id failed")
	}
	return &model.CaseResult{ID: id, SuiteResultID: suiteResultID, CaseID: caseID}, nil
}

// UpsertCommandResult writes the (case result, command) row, replacing any
// earlier run, and sets result.ID.
func (r *MySQLRepository) UpsertCommandResult(ctx context.Context, tx db.Transaction, result *model.CommandResult) error {
	q, err := r.querier(tx)
	if err != nil {
		return err
	}
	res, err := q.Exec(ctx, `INSERT INTO ag_test_command_results
		(ag_test_case_result_id, ag_test_command_id, return_code, timed_out, stdout_truncated,
		 stderr_truncated, return_code_correct, stdout_correct, stderr_correct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		 id = LAST_INSERT_ID(id),
		 return_code = VALUES(return_code),
		 timed_out = VALUES(timed_out),
		 stdout_truncated = VALUES(stdout_truncated),
		 stderr_truncated = VALUES(stderr_truncated),
		 return_code_correct = VALUES(return_code_correct),
		 stdout_correct = VALUES(stdout_correct),
		 stderr_correct = VALUES(stderr_correct)`,
		result.CaseResultID,
		result.CommandID,
		nullableInt(result.ReturnCode),
		result.TimedOut,
		result.StdoutTruncated,
		result.StderrTruncated,
		nullableBool(result.ReturnCodeCorrect),
		nullableBool(result.StdoutCorrect),
		nullableBool(result.StderrCorrect),
	)
	if err != nil {
		return wrapWrite(err, "upsert command result for case result %d command %d failed", result.CaseResultID, result.CommandID)
	}
	// LAST_INSERT_ID(id) makes the id available on the update path too.
	id, err := res.LastInsertId()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read command result id failed")
	}
	result.ID = id
	return nil
}

func scanSuiteResult(row scanner) (*model.SuiteResult, error) {
	var (
		s    model.SuiteResult
		code sql.NullInt64
	)
	if err := row.Scan(
		&s.ID,
		&s.SubmissionID,
		&s.SuiteID,
		&code,
		&s.SetupTimedOut,
		&s.SetupStdoutTruncated,
		&s.SetupStderrTruncated,
	); err != nil {
		return nil, err
	}
	s.SetupReturnCode = intPtr(code)
	return &s, nil
}

func scanCommandResult(row scanner) (*model.CommandResult, error) {
	var (
		c          model.CommandResult
		code       sql.NullInt64
		rcCorrect  sql.NullBool
		outCorrect sql.NullBool
		errCorrect sql.NullBool
	)
	if err := row.Scan(
		&c.ID,
		&c.CaseResultID,
		&c.CommandID,
		&code,
		&c.TimedOut,
		&c.StdoutTruncated,
		&c.StderrTruncated,
		&rcCorrect,
		&outCorrect,
		&errCorrect,
	); err != nil {
		return nil, err
	}
	c.ReturnCode = intPtr(code)
	c.ReturnCodeCorrect = boolPtr(rcCorrect)
	c.StdoutCorrect = boolPtr(outCorrect)
	c.StderrCorrect = boolPtr(errCorrect)
	return &c, nil
}

func rowExists(ctx context.Context, q db.Querier, query string, args ...interface{}) (bool, error) {
	var one int
	if err := q.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, appErr.Wrapf(err, appErr.DatabaseError, "existence check failed")
	}
	return true, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
