package repository

import (
	"context"

	"go.uber.org/zap"

	"autograde/internal/common/db"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

// MoveCase points a case at another suite of the same project and moves every
// existing case result under a suite result for the new suite, creating those
// as needed. It returns the submissions whose results moved.
func (r *MySQLRepository) MoveCase(ctx context.Context, caseID, newSuiteID int64) ([]int64, error) {
	var moved []int64
	err := r.Transaction(ctx, func(tx db.Transaction) error {
		moved = moved[:0]
		var oldSuiteID, oldProjectID int64
		err := tx.QueryRow(ctx, `SELECT k.ag_test_suite_id, s.project_id
			FROM ag_test_cases k
			JOIN ag_test_suites s ON s.id = k.ag_test_suite_id
			WHERE k.id = ? FOR UPDATE`, caseID).Scan(&oldSuiteID, &oldProjectID)
		if err != nil {
			if db.IsNoRows(err) {
				return appErr.Newf(appErr.CaseNotFound, "case %d not found", caseID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "lock case %d failed", caseID)
		}

		var newProjectID int64
		if err := tx.QueryRow(ctx, "SELECT project_id FROM ag_test_suites WHERE id = ? FOR UPDATE", newSuiteID).Scan(&newProjectID); err != nil {
			if db.IsNoRows(err) {
				return appErr.Newf(appErr.SuiteNotFound, "suite %d not found", newSuiteID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "lock suite %d failed", newSuiteID)
		}
		if newProjectID != oldProjectID {
			return appErr.Newf(appErr.CaseMoveInvalid, "case %d cannot move to suite %d of another project", caseID, newSuiteID)
		}
		if newSuiteID == oldSuiteID {
			return nil
		}

		if _, err := tx.Exec(ctx, "UPDATE ag_test_cases SET ag_test_suite_id = ? WHERE id = ?", newSuiteID, caseID); err != nil {
			if db.IntegrityViolation(err) {
				return appErr.Wrapf(err, appErr.CaseMoveInvalid, "suite %d already has a case with this name", newSuiteID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "reparent case %d failed", caseID)
		}

		rows, err := tx.Query(ctx, `SELECT cr.id, sr.submission_id
			FROM ag_test_case_results cr
			JOIN ag_test_suite_results sr ON sr.id = cr.ag_test_suite_result_id
			WHERE cr.ag_test_case_id = ?
			ORDER BY cr.id FOR UPDATE`, caseID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "load case results failed")
		}
		type pending struct{ caseResultID, submissionID int64 }
		var results []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.caseResultID, &p.submissionID); err != nil {
				_ = rows.Close()
				return appErr.Wrapf(err, appErr.DatabaseError, "scan case result failed")
			}
			results = append(results, p)
		}
		if err := closeRows(rows); err != nil {
			return err
		}

		for _, p := range results {
			suiteResult, err := r.GetOrCreateSuiteResult(ctx, tx, p.submissionID, newSuiteID)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "UPDATE ag_test_case_results SET ag_test_suite_result_id = ? WHERE id = ?", suiteResult.ID, p.caseResultID); err != nil {
				return wrapWrite(err, "move case result %d failed", p.caseResultID)
			}
			moved = append(moved, p.submissionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "case moved",
		zap.Int64("case_id", caseID),
		zap.Int64("suite_id", newSuiteID),
		zap.Int("results_moved", len(moved)),
	)
	return moved, nil
}
