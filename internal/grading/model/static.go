package model

import (
	"time"

	"autograde/internal/grading/diff"
	"autograde/internal/grading/feedback"
)

// ExpectedReturnCode is the return code policy of a command.
type ExpectedReturnCode string

const (
	ExpectedReturnCodeNone    ExpectedReturnCode = "none"
	ExpectedReturnCodeZero    ExpectedReturnCode = "zero"
	ExpectedReturnCodeNonzero ExpectedReturnCode = "nonzero"
)

// ExpectedOutputSource says where the expected stdout or stderr comes from.
type ExpectedOutputSource string

const (
	ExpectedOutputNone           ExpectedOutputSource = "none"
	ExpectedOutputText           ExpectedOutputSource = "text"
	ExpectedOutputInstructorFile ExpectedOutputSource = "instructor_file"
)

// StdinSource says what is redirected to a command's stdin.
type StdinSource string

const (
	StdinNone           StdinSource = "none"
	StdinText           StdinSource = "text"
	StdinInstructorFile StdinSource = "instructor_file"
	StdinSetupStdout    StdinSource = "setup_stdout"
	StdinSetupStderr    StdinSource = "setup_stderr"
)

// InstructorFile is a file uploaded by course staff for a project.
type InstructorFile struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

// ResourceLimits bounds one command run.
type ResourceLimits struct {
	TimeLimit time.Duration `json:"time_limit"`
	// VirtualMemoryLimit is in bytes. Zero means no limit.
	VirtualMemoryLimit int64 `json:"virtual_memory_limit"`
	BlockProcessSpawn  bool  `json:"block_process_spawn"`
}

// SetupCommand runs once per suite before any case.
type SetupCommand struct {
	Name string `json:"name"`
	Cmd  string `json:"cmd"`
}

// Suite is an ordered group of cases sharing one sandbox and setup.
type Suite struct {
	ID                           int64                         `json:"id"`
	ProjectID                    int64                         `json:"project_id"`
	Name                         string                        `json:"name"`
	Order                        int                           `json:"order"`
	StudentDescription           string                        `json:"student_description"`
	SandboxImage                 string                        `json:"sandbox_image"`
	AllowNetworkAccess           bool                          `json:"allow_network_access"`
	Deferred                     bool                          `json:"deferred"`
	InstructorFiles              []InstructorFile              `json:"instructor_files"`
	StudentFiles                 []string                      `json:"student_files"`
	Setup                        *SetupCommand                 `json:"setup,omitempty"`
	RejectSubmissionIfSetupFails bool                          `json:"reject_submission_if_setup_fails"`
	Feedback                     feedback.SuiteFeedbackConfigs `json:"feedback"`
	Cases                        []Case                        `json:"cases"`
}

// Case is an ordered group of commands within a suite.
type Case struct {
	ID                 int64                        `json:"id"`
	SuiteID            int64                        `json:"suite_id"`
	Name               string                       `json:"name"`
	Order              int                          `json:"order"`
	StudentDescription string                       `json:"student_description"`
	Feedback           feedback.CaseFeedbackConfigs `json:"feedback"`
	Commands           []Command                    `json:"commands"`
}

// OutputExpectation describes how one output stream is checked.
type OutputExpectation struct {
	Source ExpectedOutputSource `json:"source"`
	Text   string               `json:"text,omitempty"`
	File   *InstructorFile      `json:"file,omitempty"`
}

// Checked reports whether the stream has an expectation at all.
func (e OutputExpectation) Checked() bool {
	return e.Source != "" && e.Source != ExpectedOutputNone
}

// Stdin describes the stdin redirect of a command.
type Stdin struct {
	Source StdinSource     `json:"source"`
	Text   string          `json:"text,omitempty"`
	File   *InstructorFile `json:"file,omitempty"`
}

// Command is one executable check.
type Command struct {
	ID                       int64  `json:"id"`
	CaseID                   int64  `json:"case_id"`
	Name                     string `json:"name"`
	Order                    int    `json:"order"`
	Cmd                      string `json:"cmd"`
	StudentDescription       string `json:"student_description"`
	StudentOnFailDescription string `json:"student_on_fail_description"`

	Stdin              Stdin              `json:"stdin"`
	ExpectedReturnCode ExpectedReturnCode `json:"expected_return_code"`
	ExpectedStdout     OutputExpectation  `json:"expected_stdout"`
	ExpectedStderr     OutputExpectation  `json:"expected_stderr"`
	Diff               diff.Options       `json:"diff"`

	PointsForCorrectReturnCode  int `json:"points_for_correct_return_code"`
	PointsForCorrectStdout      int `json:"points_for_correct_stdout"`
	PointsForCorrectStderr      int `json:"points_for_correct_stderr"`
	DeductionForWrongReturnCode int `json:"deduction_for_wrong_return_code"`
	DeductionForWrongStdout     int `json:"deduction_for_wrong_stdout"`
	DeductionForWrongStderr     int `json:"deduction_for_wrong_stderr"`

	Limits   ResourceLimits                  `json:"limits"`
	Feedback feedback.CommandFeedbackConfigs `json:"feedback"`
}

// ChecksReturnCode reports whether the return code dimension applies.
func (c *Command) ChecksReturnCode() bool {
	return c.ExpectedReturnCode == ExpectedReturnCodeZero || c.ExpectedReturnCode == ExpectedReturnCodeNonzero
}

// ReturnCodeCorrect applies the expectation to code. It returns nil when the
// dimension does not apply.
func (c *Command) ReturnCodeCorrect(code int) *bool {
	var ok bool
	switch c.ExpectedReturnCode {
	case ExpectedReturnCodeZero:
		ok = code == 0
	case ExpectedReturnCodeNonzero:
		ok = code != 0
	default:
		return nil
	}
	return &ok
}

// Project owns suites.
type Project struct {
	ID     int64   `json:"id"`
	Suites []Suite `json:"suites"`
}
