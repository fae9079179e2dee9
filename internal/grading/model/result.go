package model

import "fmt"

// SuiteResult is the per (submission, suite) result row.
type SuiteResult struct {
	ID                   int64 `json:"pk"`
	SubmissionID         int64 `json:"submission_id"`
	SuiteID              int64 `json:"ag_test_suite_id"`
	SetupReturnCode      *int  `json:"setup_return_code"`
	SetupTimedOut        bool  `json:"setup_timed_out"`
	SetupStdoutTruncated bool  `json:"setup_stdout_truncated"`
	SetupStderrTruncated bool  `json:"setup_stderr_truncated"`

	CaseResults []CaseResult `json:"ag_test_case_results"`
}

// SetupFailed reports a nonzero or timed out setup. A suite without setup never fails.
func (r *SuiteResult) SetupFailed() bool {
	if r.SetupTimedOut {
		return true
	}
	return r.SetupReturnCode != nil && *r.SetupReturnCode != 0
}

// CaseResult is the per (suite result, case) result row.
type CaseResult struct {
	ID            int64 `json:"pk"`
	SuiteResultID int64 `json:"ag_test_suite_result_id"`
	CaseID        int64 `json:"ag_test_case_id"`

	CommandResults []CommandResult `json:"ag_test_command_results"`
}

// CommandResult is the per (case result, command) result row.
// Nil correctness means the dimension was not checked.
type CommandResult struct {
	ID                int64 `json:"pk"`
	CaseResultID      int64 `json:"ag_test_case_result_id"`
	CommandID         int64 `json:"ag_test_command_id"`
	ReturnCode        *int  `json:"return_code"`
	TimedOut          bool  `json:"timed_out"`
	StdoutTruncated   bool  `json:"stdout_truncated"`
	StderrTruncated   bool  `json:"stderr_truncated"`
	ReturnCodeCorrect *bool `json:"return_code_correct"`
	StdoutCorrect     *bool `json:"stdout_correct"`
	StderrCorrect     *bool `json:"stderr_correct"`
}

// ResultTree is the denormalized aggregate stored on a submission, keyed by suite id.
type ResultTree map[string]SuiteResult

// SuiteKey is the ResultTree key for a suite id.
func SuiteKey(suiteID int64) string {
	return fmt.Sprintf("%d", suiteID)
}

// OutputStream names one captured byte stream.
type OutputStream string

const (
	Stdout OutputStream = "stdout"
	Stderr OutputStream = "stderr"
)

// SetupOutputKey is the storage key of a suite result's setup output.
func SetupOutputKey(submissionID, suiteResultID int64, stream OutputStream) string {
	return fmt.Sprintf("submissions/%d/suite_result_%d_setup_%s", submissionID, suiteResultID, stream)
}

// CommandOutputKey is the storage key of a command result's output.
func CommandOutputKey(submissionID, commandResultID int64, stream OutputStream) string {
	return fmt.Sprintf("submissions/%d/cmd_result_%d_%s", submissionID, commandResultID, stream)
}
