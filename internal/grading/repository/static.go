package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"autograde/internal/common/db"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
)

const suiteColumns = `id, project_id, name, ord, student_description, sandbox_image, allow_network_access,
	deferred, student_files, setup_name, setup_cmd, reject_submission_if_setup_fails, feedback`

const commandColumns = `c.id, c.ag_test_case_id, c.name, c.ord, c.cmd, c.student_description,
	c.student_on_fail_description, c.stdin_source, c.stdin_text, c.stdin_instructor_file_id,
	c.expected_return_code, c.expected_stdout_source, c.expected_stdout_text,
	c.expected_stdout_instructor_file_id, c.expected_stderr_source, c.expected_stderr_text,
	c.expected_stderr_instructor_file_id, c.ignore_case, c.ignore_whitespace,
	c.ignore_whitespace_changes, c.ignore_blank_lines, c.points_for_correct_return_code,
	c.points_for_correct_stdout, c.points_for_correct_stderr, c.deduction_for_wrong_return_code,
	c.deduction_for_wrong_stdout, c.deduction_for_wrong_stderr, c.time_limit_ms,
	c.virtual_memory_limit, c.block_process_spawn, c.feedback`

// GetSuite loads a suite with its ordered cases and commands.
func (r *MySQLRepository) GetSuite(ctx context.Context, tx db.Transaction, suiteID int64) (*model.Suite, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, "SELECT "+suiteColumns+" FROM ag_test_suites WHERE id = ?", suiteID)
	suite, err := scanSuite(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.Newf(appErr.SuiteNotFound, "suite %d not found", suiteID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load suite %d failed", suiteID)
	}
	if err := r.loadSuiteChildren(ctx, q, suite); err != nil {
		return nil, err
	}
	return suite, nil
}

// ListSuites loads every suite of a project in order.
func (r *MySQLRepository) ListSuites(ctx context.Context, tx db.Transaction, projectID int64) ([]model.Suite, error) {
	q, err := r.querier(tx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, "SELECT "+suiteColumns+" FROM ag_test_suites WHERE project_id = ? ORDER BY ord, id", projectID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list suites failed")
	}
	var suites []model.Suite
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			_ = rows.Close()
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan suite failed")
		}
		suites = append(suites, *suite)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate suites failed")
	}
	_ = rows.Close()

	for i := range suites {
		if err := r.loadSuiteChildren(ctx, q, &suites[i]); err != nil {
			return nil, err
		}
	}
	return suites, nil
}

func (r *MySQLRepository) loadSuiteChildren(ctx context.Context, q db.Querier, suite *model.Suite) error {
	files, err := loadInstructorFiles(ctx, q, suite.ProjectID)
	if err != nil {
		return err
	}
	suiteFiles, err := loadSuiteInstructorFiles(ctx, q, suite.ID, files)
	if err != nil {
		return err
	}
	suite.InstructorFiles = suiteFiles

	cases, err := loadCases(ctx, q, suite.ID)
	if err != nil {
		return err
	}
	index := make(map[int64]int, len(cases))
	for i := range cases {
		index[cases[i].ID] = i
	}

	rows, err := q.Query(ctx, `SELECT `+commandColumns+`
		FROM ag_test_commands c
		JOIN ag_test_cases k ON k.id = c.ag_test_case_id
		WHERE k.ag_test_suite_id = ?
		ORDER BY k.ord, k.id, c.ord, c.id`, suite.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load commands failed")
	}
	defer rows.Close()
	for rows.Next() {
		cmd, err := scanCommand(rows, files)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "scan command failed")
		}
		if i, ok := index[cmd.CaseID]; ok {
			cases[i].Commands = append(cases[i].Commands, *cmd)
		}
	}
	if err := rows.Err(); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "iterate commands failed")
	}
	suite.Cases = cases
	return nil
}

func loadInstructorFiles(ctx context.Context, q db.Querier, projectID int64) (map[int64]model.InstructorFile, error) {
	rows, err := q.Query(ctx, "SELECT id, project_id, name FROM instructor_files WHERE project_id = ?", projectID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load instructor files failed")
	}
	defer rows.Close()
	files := make(map[int64]model.InstructorFile)
	for rows.Next() {
		var f model.InstructorFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan instructor file failed")
		}
		files[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate instructor files failed")
	}
	return files, nil
}

func loadSuiteInstructorFiles(ctx context.Context, q db.Querier, suiteID int64, files map[int64]model.InstructorFile) ([]model.InstructorFile, error) {
	rows, err := q.Query(ctx, "SELECT instructor_file_id FROM ag_test_suite_instructor_files WHERE ag_test_suite_id = ? ORDER BY instructor_file_id", suiteID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load suite instructor files failed")
	}
	defer rows.Close()
	var out []model.InstructorFile
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan suite instructor file failed")
		}
		if f, ok := files[id]; ok {
			out = append(out, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate suite instructor files failed")
	}
	return out, nil
}

func loadCases(ctx context.Context, q db.Querier, suiteID int64) ([]model.Case, error) {
	rows, err := q.Query(ctx, `SELECT id, ag_test_suite_id, name, ord, student_description, feedback
		FROM ag_test_cases WHERE ag_test_suite_id = ? ORDER BY ord, id`, suiteID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load cases failed")
	}
	defer rows.Close()
	var cases []model.Case
	for rows.Next() {
		var (
			c   model.Case
			raw []byte
		)
		if err := rows.Scan(&c.ID, &c.SuiteID, &c.Name, &c.Order, &c.StudentDescription, &raw); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan case failed")
		}
		if c.Feedback, err = feedback.DecodeCaseFeedbackConfigs(raw); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate cases failed")
	}
	return cases, nil
}

func scanSuite(row scanner) (*model.Suite, error) {
	var (
		s            model.Suite
		studentFiles []byte
		setupName    string
		setupCmd     sql.NullString
		rawFeedback  []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.Name,
		&s.Order,
		&s.StudentDescription,
		&s.SandboxImage,
		&s.AllowNetworkAccess,
		&s.Deferred,
		&studentFiles,
		&setupName,
		&setupCmd,
		&s.RejectSubmissionIfSetupFails,
		&rawFeedback,
	); err != nil {
		return nil, err
	}
	if len(studentFiles) > 0 {
		if err := json.Unmarshal(studentFiles, &s.StudentFiles); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidFormat, "decode student files of suite %d failed", s.ID)
		}
	}
	if setupCmd.Valid {
		s.Setup = &model.SetupCommand{Name: setupName, Cmd: setupCmd.String}
	}
	fdbk, err := feedback.DecodeSuiteFeedbackConfigs(rawFeedback)
	if err != nil {
		return nil, err
	}
	s.Feedback = fdbk
	return &s, nil
}

func scanCommand(row scanner, files map[int64]model.InstructorFile) (*model.Command, error) {
	var (
		c                  model.Command
		stdinFile          sql.NullInt64
		stdoutFile         sql.NullInt64
		stderrFile         sql.NullInt64
		stdinSource        string
		stdoutSource       string
		stderrSource       string
		expectedReturnCode string
		timeLimitMS        int64
		rawFeedback        []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.CaseID,
		&c.Name,
		&c.Order,
		&c.Cmd,
		&c.StudentDescription,
		&c.StudentOnFailDescription,
		&stdinSource,
		&c.Stdin.Text,
		&stdinFile,
		&expectedReturnCode,
		&stdoutSource,
		&c.ExpectedStdout.Text,
		&stdoutFile,
		&stderrSource,
		&c.ExpectedStderr.Text,
		&stderrFile,
		&c.Diff.IgnoreCase,
		&c.Diff.IgnoreWhitespace,
		&c.Diff.IgnoreWhitespaceChanges,
		&c.Diff.IgnoreBlankLines,
		&c.PointsForCorrectReturnCode,
		&c.PointsForCorrectStdout,
		&c.PointsForCorrectStderr,
		&c.DeductionForWrongReturnCode,
		&c.DeductionForWrongStdout,
		&c.DeductionForWrongStderr,
		&timeLimitMS,
		&c.Limits.VirtualMemoryLimit,
		&c.Limits.BlockProcessSpawn,
		&rawFeedback,
	); err != nil {
		return nil, err
	}
	c.Stdin.Source = model.StdinSource(stdinSource)
	c.Stdin.File = lookupFile(files, stdinFile)
	c.ExpectedReturnCode = model.ExpectedReturnCode(expectedReturnCode)
	c.ExpectedStdout.Source = model.ExpectedOutputSource(stdoutSource)
	c.ExpectedStdout.File = lookupFile(files, stdoutFile)
	c.ExpectedStderr.Source = model.ExpectedOutputSource(stderrSource)
	c.ExpectedStderr.File = lookupFile(files, stderrFile)
	c.Limits.TimeLimit = time.Duration(timeLimitMS) * time.Millisecond

	fdbk, err := feedback.DecodeCommandFeedbackConfigs(rawFeedback)
	if err != nil {
		return nil, err
	}
	c.Feedback = fdbk
	return &c, nil
}

func lookupFile(files map[int64]model.InstructorFile, id sql.NullInt64) *model.InstructorFile {
	if !id.Valid {
		return nil
	}
	f, ok := files[id.Int64]
	if !ok {
		return nil
	}
	return &f
}
