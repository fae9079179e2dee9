package repository

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"autograde/internal/common/db"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

const submissionColumns = "id, project_id, group_id, status, usernames, submitted_filenames, error_msg, created_at"

func (r *MySQLRepository) GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	var (
		s         model.Submission
		status    string
		usernames []byte
		filenames []byte
	)
	row := q.QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", submissionID)
	if err := row.Scan(&s.ID, &s.ProjectID, &s.GroupID, &status, &usernames, &filenames, &s.Error, &s.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission %d failed", submissionID)
	}
	s.Status = model.GradingStatus(status)
	if err := unmarshalList(usernames, &s.Usernames); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "decode usernames of submission %d failed", submissionID)
	}
	if err := unmarshalList(filenames, &s.SubmittedFilenames); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "decode filenames of submission %d failed", submissionID)
	}
	return &s, nil
}

// UpdateStatus locks the submission row and applies the transition. Moving to
// the current status is a no-op.
func (r *MySQLRepository) UpdateStatus(ctx context.Context, submissionID int64, status model.GradingStatus, errMsg string) (model.GradingStatus, error) {
	var prev model.GradingStatus
	err := r.Transaction(ctx, func(tx db.Transaction) error {
		var current string
		if err := tx.QueryRow(ctx, "SELECT status FROM submissions WHERE id = ? FOR UPDATE", submissionID).Scan(&current); err != nil {
			if db.IsNoRows(err) {
				return appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "lock submission %d failed", submissionID)
		}
		prev = model.GradingStatus(current)
		if prev == status {
			return nil
		}
		if !model.CanTransition(prev, status) {
			return appErr.Newf(appErr.InvalidStatusTransition, "submission %d cannot move from %s to %s", submissionID, prev, status).
				WithDetail("from", string(prev)).
				WithDetail("to", string(status))
		}
		if _, err := tx.Exec(ctx, "UPDATE submissions SET status = ?, error_msg = ? WHERE id = ?", string(status), errMsg, submissionID); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update submission %d status failed", submissionID)
		}
		return nil
	})
	if err != nil {
		return prev, err
	}
	logger.Info(ctx, "submission status updated",
		zap.Int64("submission_id", submissionID),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
	)
	return prev, nil
}

// UpdateDenormalizedResults rebuilds the result document of a submission from
// the relational rows. It is safe to run any number of times.
func (r *MySQLRepository) UpdateDenormalizedResults(ctx context.Context, submissionID int64) (model.ResultTree, error) {
	var tree model.ResultTree
	err := r.Transaction(ctx, func(tx db.Transaction) error {
		var id int64
		if err := tx.QueryRow(ctx, "SELECT id FROM submissions WHERE id = ? FOR UPDATE", submissionID).Scan(&id); err != nil {
			if db.IsNoRows(err) {
				return appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "lock submission %d failed", submissionID)
		}
		built, err := buildResultTree(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(built)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "encode result tree failed")
		}
		if _, err := tx.Exec(ctx, "UPDATE submissions SET denormalized_results = ? WHERE id = ?", payload, submissionID); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "store result tree failed")
		}
		tree = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// LoadResultTree reads the stored result document, falling back to the
// relational rows when it was never written.
func (r *MySQLRepository) LoadResultTree(ctx context.Context, submissionID int64) (model.ResultTree, error) {
	q, err := r.querier(nil)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := q.QueryRow(ctx, "SELECT denormalized_results FROM submissions WHERE id = ?", submissionID).Scan(&raw); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load result tree failed")
	}
	if len(raw) == 0 {
		return buildResultTree(ctx, q, submissionID)
	}
	tree := make(model.ResultTree)
	if err := json.Unmarshal(raw, &tree); err != nil {
		logger.Warn(ctx, "stored result tree unreadable, rebuilding", zap.Int64("submission_id", submissionID), zap.Error(err))
		return buildResultTree(ctx, q, submissionID)
	}
	return tree, nil
}

func buildResultTree(ctx context.Context, q db.Querier, submissionID int64) (model.ResultTree, error) {
	rows, err := q.Query(ctx, "SELECT "+suiteResultColumns+" FROM ag_test_suite_results WHERE submission_id = ? ORDER BY id", submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load suite results failed")
	}
	var suites []model.SuiteResult
	for rows.Next() {
		s, err := scanSuiteResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan suite result failed")
		}
		suites = append(suites, *s)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT cr.id, cr.ag_test_suite_result_id, cr.ag_test_case_id
		FROM ag_test_case_results cr
		JOIN ag_test_suite_results sr ON sr.id = cr.ag_test_suite_result_id
		WHERE sr.submission_id = ?
		ORDER BY cr.id`, submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load case results failed")
	}
	var cases []model.CaseResult
	for rows.Next() {
		var c model.CaseResult
		if err := rows.Scan(&c.ID, &c.SuiteResultID, &c.CaseID); err != nil {
			_ = rows.Close()
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan case result failed")
		}
		cases = append(cases, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `SELECT `+commandResultColumns+`
		FROM ag_test_command_results cmr
		JOIN ag_test_case_results cr ON cr.id = cmr.ag_test_case_result_id
		JOIN ag_test_suite_results sr ON sr.id = cr.ag_test_suite_result_id
		WHERE sr.submission_id = ?
		ORDER BY cmr.id`, submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load command results failed")
	}
	commands := make(map[int64][]model.CommandResult)
	for rows.Next() {
		c, err := scanCommandResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan command result failed")
		}
		commands[c.CaseResultID] = append(commands[c.CaseResultID], *c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	casesBySuite := make(map[int64][]model.CaseResult)
	for _, c := range cases {
		c.CommandResults = commands[c.ID]
		casesBySuite[c.SuiteResultID] = append(casesBySuite[c.SuiteResultID], c)
	}
	tree := make(model.ResultTree, len(suites))
	for _, s := range suites {
		s.CaseResults = casesBySuite[s.ID]
		tree[model.SuiteKey(s.SuiteID)] = s
	}
	return tree, nil
}

func closeRows(rows db.Rows) error {
	err := rows.Err()
	_ = rows.Close()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "iterate rows failed")
	}
	return nil
}

func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
