package repository

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"autograde/internal/common/db"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
)

func newTestRepository(fake *fakeDB) *MySQLRepository {
	return NewRepository(fake)
}

func TestGetOrCreateSuiteResultExisting(t *testing.T) {
	fake := newFakeDB(step{
		match: "FROM ag_test_suite_results WHERE submission_id",
		rows:  [][]interface{}{{int64(5), int64(1), int64(2), int64(0), false, true, false}},
	})
	res, err := newTestRepository(fake).GetOrCreateSuiteResult(context.Background(), nil, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != 5 || res.SetupReturnCode == nil || *res.SetupReturnCode != 0 || !res.SetupStdoutTruncated {
		t.Fatalf("unexpected suite result: %+v", res)
	}
	if len(fake.execs("INSERT")) != 0 {
		t.Fatalf("expected no insert for an existing row")
	}
}

func TestGetOrCreateSuiteResultInserts(t *testing.T) {
	fake := newFakeDB(
		step{match: "FROM ag_test_suite_results WHERE submission_id"},
		step{match: "INSERT INTO ag_test_suite_results", insertID: 9},
	)
	res, err := newTestRepository(fake).GetOrCreateSuiteResult(context.Background(), nil, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != 9 || res.SubmissionID != 1 || res.SuiteID != 2 || res.SetupReturnCode != nil {
		t.Fatalf("unexpected suite result: %+v", res)
	}
}

func TestGetOrCreateSuiteResultLosesRace(t *testing.T) {
	fake := newFakeDB(
		step{match: "FROM ag_test_suite_results WHERE submission_id"},
		step{match: "INSERT INTO ag_test_suite_results", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-2' for key 'uniq_suite_result'"}},
		step{
			match: "FOR UPDATE",
			rows:  [][]interface{}{{int64(7), int64(1), int64(2), nil, false, false, false}},
		},
	)
	res, err := newTestRepository(fake).GetOrCreateSuiteResult(context.Background(), nil, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != 7 {
		t.Fatalf("expected the winner's row, got %+v", res)
	}
}

func TestGetOrCreateCaseResultParentDeleted(t *testing.T) {
	fake := newFakeDB(
		step{match: "FROM ag_test_case_results WHERE ag_test_suite_result_id"},
		step{match: "INSERT INTO ag_test_case_results", err: &mysql.MySQLError{Number: 1452}},
	)
	_, err := newTestRepository(fake).GetOrCreateCaseResult(context.Background(), nil, 3, 4)
	if !appErr.Is(err, appErr.IntegrityViolation) {
		t.Fatalf("expected IntegrityViolation, got %v", err)
	}
	if !db.ForeignKeyViolation(err) {
		t.Fatalf("expected the driver error to stay reachable")
	}
}

func TestUpsertCommandResult(t *testing.T) {
	fake := newFakeDB(
		step{match: "ON DUPLICATE KEY UPDATE", insertID: 11},
		step{match: "ON DUPLICATE KEY UPDATE", insertID: 11},
	)
	repo := newTestRepository(fake)
	code := 1
	wrong := false
	result := &model.CommandResult{CaseResultID: 3, CommandID: 4, ReturnCode: &code, ReturnCodeCorrect: &wrong}

	for i := 0; i < 2; i++ {
		if err := repo.UpsertCommandResult(context.Background(), nil, result); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if result.ID != 11 {
			t.Fatalf("expected id 11, got %d", result.ID)
		}
	}
	calls := fake.execs("INSERT INTO ag_test_command_results")
	if len(calls) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(calls))
	}
	args := calls[0].args
	if args[2] != int64(1) || args[6] != false || args[7] != nil || args[8] != nil {
		t.Fatalf("unexpected upsert args: %v", args)
	}
}

func TestUpdateSuiteResultDeleted(t *testing.T) {
	fake := newFakeDB(
		step{match: "UPDATE ag_test_suite_results", noRows: true},
		step{match: "SELECT 1 FROM ag_test_suite_results", rows: [][]interface{}{{1}}},
	)
	// An unchanged row reports zero affected rows but still exists.
	if err := newTestRepository(fake).UpdateSuiteResult(context.Background(), nil, &model.SuiteResult{ID: 8}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fake = newFakeDB(
		step{match: "UPDATE ag_test_suite_results", noRows: true},
		step{match: "SELECT 1 FROM ag_test_suite_results"},
	)
	err := newTestRepository(fake).UpdateSuiteResult(context.Background(), nil, &model.SuiteResult{ID: 8})
	if !appErr.Is(err, appErr.IntegrityViolation) {
		t.Fatalf("expected IntegrityViolation, got %v", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current model.GradingStatus
		next    model.GradingStatus
		update  bool
		code    appErr.ErrorCode
	}{
		{name: "queued to grading", current: model.StatusQueued, next: model.StatusBeingGraded, update: true},
		{name: "received removed", current: model.StatusReceived, next: model.StatusRemovedFromQueue, update: true},
		{name: "grading removed", current: model.StatusBeingGraded, next: model.StatusRemovedFromQueue, code: appErr.InvalidStatusTransition},
		{name: "error is terminal", current: model.StatusError, next: model.StatusBeingGraded, code: appErr.InvalidStatusTransition},
		{name: "same status", current: model.StatusBeingGraded, next: model.StatusBeingGraded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			steps := []step{{match: "SELECT status FROM submissions", rows: [][]interface{}{{string(tt.current)}}}}
			if tt.update {
				steps = append(steps, step{match: "UPDATE submissions SET status"})
			}
			fake := newFakeDB(steps...)
			prev, err := newTestRepository(fake).UpdateStatus(context.Background(), 1, tt.next, "")
			if tt.code != 0 {
				if !appErr.Is(err, tt.code) {
					t.Fatalf("expected code %d, got %v", tt.code, err)
				}
				if fake.rollbacks != 1 {
					t.Fatalf("expected rollback")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if prev != tt.current {
				t.Fatalf("expected previous %s, got %s", tt.current, prev)
			}
			if left := fake.pending(); len(left) != 0 {
				t.Fatalf("statements not issued: %v", left)
			}
		})
	}
}

func TestMoveCaseAcrossProjects(t *testing.T) {
	fake := newFakeDB(
		step{match: "SELECT k.ag_test_suite_id", rows: [][]interface{}{{int64(1), int64(100)}}},
		step{match: "SELECT project_id FROM ag_test_suites", rows: [][]interface{}{{int64(200)}}},
	)
	_, err := newTestRepository(fake).MoveCase(context.Background(), 5, 2)
	if !appErr.Is(err, appErr.CaseMoveInvalid) {
		t.Fatalf("expected CaseMoveInvalid, got %v", err)
	}
	if len(fake.execs("UPDATE")) != 0 {
		t.Fatalf("expected nothing updated")
	}
}

func TestMoveCaseMigratesResults(t *testing.T) {
	fake := newFakeDB(
		step{match: "SELECT k.ag_test_suite_id", rows: [][]interface{}{{int64(1), int64(100)}}},
		step{match: "SELECT project_id FROM ag_test_suites", rows: [][]interface{}{{int64(100)}}},
		step{match: "UPDATE ag_test_cases SET ag_test_suite_id"},
		step{match: "WHERE cr.ag_test_case_id", rows: [][]interface{}{{int64(30), int64(7)}, {int64(31), int64(8)}}},
		// submission 7 already has a result for the new suite.
		step{match: "FROM ag_test_suite_results WHERE submission_id", rows: [][]interface{}{{int64(70), int64(7), int64(2), nil, false, false, false}}},
		step{match: "UPDATE ag_test_case_results"},
		// submission 8 does not.
		step{match: "FROM ag_test_suite_results WHERE submission_id"},
		step{match: "INSERT INTO ag_test_suite_results", insertID: 80},
		step{match: "UPDATE ag_test_case_results"},
	)
	moved, err := newTestRepository(fake).MoveCase(context.Background(), 5, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(moved) != 2 || moved[0] != 7 || moved[1] != 8 {
		t.Fatalf("unexpected moved submissions: %v", moved)
	}
	updates := fake.execs("UPDATE ag_test_case_results")
	if updates[0].args[0] != int64(70) || updates[1].args[0] != int64(80) {
		t.Fatalf("case results not re-pointed: %+v", updates)
	}
	if fake.commits != 1 {
		t.Fatalf("expected one commit, got %d", fake.commits)
	}
}

func TestMoveCaseRollsBackOnFailure(t *testing.T) {
	fake := newFakeDB(
		step{match: "SELECT k.ag_test_suite_id", rows: [][]interface{}{{int64(1), int64(100)}}},
		step{match: "SELECT project_id FROM ag_test_suites", rows: [][]interface{}{{int64(100)}}},
		step{match: "UPDATE ag_test_cases SET ag_test_suite_id"},
		step{match: "WHERE cr.ag_test_case_id", rows: [][]interface{}{{int64(30), int64(7)}}},
		step{match: "FROM ag_test_suite_results WHERE submission_id"},
		step{match: "INSERT INTO ag_test_suite_results", err: &mysql.MySQLError{Number: 1452}},
	)
	if _, err := newTestRepository(fake).MoveCase(context.Background(), 5, 2); err == nil {
		t.Fatalf("expected error")
	}
	if fake.rollbacks != 1 || fake.commits != 0 {
		t.Fatalf("expected rollback, got %d commits %d rollbacks", fake.commits, fake.rollbacks)
	}
}

func TestUpdateDenormalizedResults(t *testing.T) {
	fake := newFakeDB(
		step{match: "SELECT id FROM submissions", rows: [][]interface{}{{int64(1)}}},
		step{match: "FROM ag_test_suite_results WHERE submission_id", rows: [][]interface{}{{int64(10), int64(1), int64(2), int64(0), false, false, false}}},
		step{match: "FROM ag_test_case_results cr", rows: [][]interface{}{{int64(20), int64(10), int64(3)}}},
		step{match: "FROM ag_test_command_results cmr", rows: [][]interface{}{
			{int64(30), int64(20), int64(4), int64(0), false, false, false, true, nil, nil},
		}},
		step{match: "UPDATE submissions SET denormalized_results"},
	)
	tree, err := newTestRepository(fake).UpdateDenormalizedResults(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	suite, ok := tree[model.SuiteKey(2)]
	if !ok || len(suite.CaseResults) != 1 || len(suite.CaseResults[0].CommandResults) != 1 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
	cmd := suite.CaseResults[0].CommandResults[0]
	if cmd.ReturnCodeCorrect == nil || !*cmd.ReturnCodeCorrect || cmd.StdoutCorrect != nil {
		t.Fatalf("unexpected command result: %+v", cmd)
	}

	stored := fake.execs("UPDATE submissions SET denormalized_results")[0].args[0].([]byte)
	var decoded model.ResultTree
	if err := json.Unmarshal(stored, &decoded); err != nil {
		t.Fatalf("stored document is not json: %v", err)
	}
	if decoded["2"].CaseResults[0].CommandResults[0].ID != 30 {
		t.Fatalf("unexpected stored document: %s", stored)
	}
}

func TestLoadResultTreeFromDocument(t *testing.T) {
	doc := `{"2":{"pk":10,"submission_id":1,"ag_test_suite_id":2,"setup_return_code":null,"setup_timed_out":false,
		"setup_stdout_truncated":false,"setup_stderr_truncated":false,"ag_test_case_results":[]}}`
	fake := newFakeDB(step{match: "SELECT denormalized_results", rows: [][]interface{}{{[]byte(doc)}}})
	tree, err := newTestRepository(fake).LoadResultTree(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree["2"].ID != 10 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
}

func TestLoadResultTreeFallsBackToRows(t *testing.T) {
	fake := newFakeDB(
		step{match: "SELECT denormalized_results", rows: [][]interface{}{{nil}}},
		step{match: "FROM ag_test_suite_results WHERE submission_id", rows: [][]interface{}{{int64(10), int64(1), int64(2), nil, false, false, false}}},
		step{match: "FROM ag_test_case_results cr"},
		step{match: "FROM ag_test_command_results cmr"},
	)
	tree, err := newTestRepository(fake).LoadResultTree(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree) != 1 || tree["2"].ID != 10 {
		t.Fatalf("unexpected tree: %+v", tree)
	}
}

func TestGetSuite(t *testing.T) {
	fdbk := `{"normal_fdbk_config":{"visible":false,"show_individual_tests":true,"show_setup_return_code":true,
		"show_setup_timed_out":true,"show_setup_stdout":false,"show_setup_stderr":false,"show_student_description":true}}`
	fake := newFakeDB(
		step{match: "FROM ag_test_suites WHERE id", rows: [][]interface{}{{
			int64(2), int64(100), "Public tests", 0, "desc", "autograder:latest", false,
			false, []byte(`["*.py"]`), "build", "make", true, []byte(fdbk),
		}}},
		step{match: "FROM instructor_files", rows: [][]interface{}{{int64(40), int64(100), "expected.txt"}, {int64(41), int64(100), "helper.py"}}},
		step{match: "FROM ag_test_suite_instructor_files", rows: [][]interface{}{{int64(41)}}},
		step{match: "FROM ag_test_cases WHERE", rows: [][]interface{}{{int64(3), int64(2), "case", 0, "", nil}}},
		step{match: "FROM ag_test_commands c", rows: [][]interface{}{{
			int64(4), int64(3), "run", 0, "python3 helper.py", "", "",
			"text", "1 2\n", nil,
			"zero", "instructor_file", "", int64(40), "none", "", nil,
			true, false, false, false, 10, 5, 0, -2, 0, 0,
			int64(2500), int64(0), true, nil,
		}}},
	)
	suite, err := newTestRepository(fake).GetSuite(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if suite.Setup == nil || suite.Setup.Cmd != "make" || suite.Setup.Name != "build" {
		t.Fatalf("unexpected setup: %+v", suite.Setup)
	}
	if len(suite.StudentFiles) != 1 || suite.StudentFiles[0] != "*.py" {
		t.Fatalf("unexpected student files: %v", suite.StudentFiles)
	}
	if len(suite.InstructorFiles) != 1 || suite.InstructorFiles[0].Name != "helper.py" {
		t.Fatalf("unexpected instructor files: %+v", suite.InstructorFiles)
	}
	if suite.Feedback.Normal.Visible {
		t.Fatalf("expected stored suite feedback to apply")
	}
	if suite.Feedback.StaffViewer != feedback.MaxSuiteConfig() {
		t.Fatalf("expected default staff feedback")
	}
	if len(suite.Cases) != 1 || len(suite.Cases[0].Commands) != 1 {
		t.Fatalf("unexpected cases: %+v", suite.Cases)
	}
	if suite.Cases[0].Feedback != feedback.DefaultCaseFeedbackConfigs() {
		t.Fatalf("expected default case feedback for a null column")
	}
	cmd := suite.Cases[0].Commands[0]
	if cmd.ExpectedStdout.File == nil || cmd.ExpectedStdout.File.Name != "expected.txt" {
		t.Fatalf("unexpected expected stdout: %+v", cmd.ExpectedStdout)
	}
	if cmd.Stdin.Source != model.StdinText || cmd.Stdin.Text != "1 2\n" || cmd.Stdin.File != nil {
		t.Fatalf("unexpected stdin: %+v", cmd.Stdin)
	}
	if cmd.Limits.TimeLimit != 2500*time.Millisecond || !cmd.Limits.BlockProcessSpawn {
		t.Fatalf("unexpected limits: %+v", cmd.Limits)
	}
	if !cmd.Diff.IgnoreCase || cmd.DeductionForWrongReturnCode != -2 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestGetSuiteNotFound(t *testing.T) {
	fake := newFakeDB(step{match: "FROM ag_test_suites WHERE id"})
	if _, err := newTestRepository(fake).GetSuite(context.Background(), nil, 2); !appErr.Is(err, appErr.SuiteNotFound) {
		t.Fatalf("expected SuiteNotFound, got %v", err)
	}
}

func TestMigrate(t *testing.T) {
	var steps []step
	for i := 0; i < strings.Count(Schema, "CREATE TABLE"); i++ {
		steps = append(steps, step{match: "CREATE TABLE"})
	}
	fake := newFakeDB(steps...)
	if err := Migrate(context.Background(), fake); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left := fake.pending(); len(left) != 0 {
		t.Fatalf("expected every table created, %d left", len(left))
	}
}
