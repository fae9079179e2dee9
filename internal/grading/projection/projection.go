// Package projection computes what a viewer may see of a submission's
// results, and the points that view awards.
package projection

import (
	"autograde/internal/grading/diff"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
)

// SubmissionFeedback is the projected result tree of one submission.
type SubmissionFeedback struct {
	SubmissionID        int64           `json:"pk"`
	TotalPoints         int             `json:"total_points"`
	TotalPointsPossible int             `json:"total_points_possible"`
	Suites              []SuiteFeedback `json:"ag_test_suite_results"`
}

// SuiteFeedback is one visible suite result.
type SuiteFeedback struct {
	ID                  int64                `json:"pk"`
	SuiteID             int64                `json:"ag_test_suite_pk"`
	SuiteName           string               `json:"ag_test_suite_name"`
	Fdbk                feedback.SuiteConfig `json:"fdbk_settings"`
	StudentDescription  *string              `json:"student_description"`
	TotalPoints         int                  `json:"total_points"`
	TotalPointsPossible int                  `json:"total_points_possible"`

	SetupName            *string `json:"setup_name"`
	SetupReturnCode      *int    `json:"setup_return_code"`
	SetupTimedOut        *bool   `json:"setup_timed_out"`
	SetupStdoutTruncated *bool   `json:"setup_stdout_truncated"`
	SetupStderrTruncated *bool   `json:"setup_stderr_truncated"`
	SetupStdout          *string `json:"setup_stdout,omitempty"`
	SetupStderr          *string `json:"setup_stderr,omitempty"`

	Cases []CaseFeedback `json:"ag_test_case_results"`

	resultID   int64
	showStdout bool
	showStderr bool
}

// CaseFeedback is one visible case result.
type CaseFeedback struct {
	ID                  int64               `json:"pk"`
	CaseID              int64               `json:"ag_test_case_pk"`
	CaseName            string              `json:"ag_test_case_name"`
	Fdbk                feedback.CaseConfig `json:"fdbk_settings"`
	StudentDescription  *string             `json:"student_description"`
	TotalPoints         int                 `json:"total_points"`
	TotalPointsPossible int                 `json:"total_points_possible"`

	Commands []CommandFeedback `json:"ag_test_command_results"`
}

// CommandFeedback is one visible command result. Nil fields are hidden or
// not applicable.
type CommandFeedback struct {
	ID                       int64                  `json:"pk"`
	CommandID                int64                  `json:"ag_test_command_pk"`
	CommandName              string                 `json:"ag_test_command_name"`
	Fdbk                     feedback.CommandConfig `json:"fdbk_settings"`
	StudentDescription       *string                `json:"student_description"`
	StudentOnFailDescription *string                `json:"student_on_fail_description"`
	TimedOut                 *bool                  `json:"timed_out"`

	ReturnCodeCorrect        *bool                     `json:"return_code_correct"`
	ExpectedReturnCode       *model.ExpectedReturnCode `json:"expected_return_code"`
	ActualReturnCode         *int                      `json:"actual_return_code"`
	ReturnCodePoints         *int                      `json:"return_code_points"`
	ReturnCodePointsPossible *int                      `json:"return_code_points_possible"`

	StdoutCorrect        *bool        `json:"stdout_correct"`
	StdoutPoints         *int         `json:"stdout_points"`
	StdoutPointsPossible *int         `json:"stdout_points_possible"`
	StdoutTruncated      *bool        `json:"stdout_truncated"`
	StdoutDiff           *diff.Result `json:"stdout_diff,omitempty"`
	ActualStdout         *string      `json:"stdout,omitempty"`

	StderrCorrect        *bool        `json:"stderr_correct"`
	StderrPoints         *int         `json:"stderr_points"`
	StderrPointsPossible *int         `json:"stderr_points_possible"`
	StderrTruncated      *bool        `json:"stderr_truncated"`
	StderrDiff           *diff.Result `json:"stderr_diff,omitempty"`
	ActualStderr         *string      `json:"stderr,omitempty"`

	TotalPoints         int `json:"total_points"`
	TotalPointsPossible int `json:"total_points_possible"`

	cmd        *model.Command
	showStdout bool
	showStderr bool
	diffStdout bool
	diffStderr bool
}

// Options carries the static hierarchy the results are projected against.
type Options struct {
	SubmissionID int64
	// Suites in display order, each with its cases and commands in order.
	Suites []model.Suite
	// Names overrides the obfuscated name generator.
	Names Namer
}

// Project computes the feedback for category. It reads no storage: visible
// output streams and diffs are filled in by LoadOutputs. Results whose
// suite, case or command no longer exists are dropped.
func Project(tree model.ResultTree, category feedback.Category, opts Options) *SubmissionFeedback {
	names := opts.Names
	if names == nil {
		names = uuidNamer{}
	}
	out := &SubmissionFeedback{SubmissionID: opts.SubmissionID, Suites: []SuiteFeedback{}}
	for i := range opts.Suites {
		suite := &opts.Suites[i]
		result, ok := tree[model.SuiteKey(suite.ID)]
		if !ok {
			continue
		}
		cfg := suite.Feedback.For(category)
		if !cfg.Visible {
			continue
		}
		sf := projectSuite(suite, &result, cfg, category, names)
		out.TotalPoints += sf.TotalPoints
		out.TotalPointsPossible += sf.TotalPointsPossible
		out.Suites = append(out.Suites, sf)
	}
	return out
}

func projectSuite(suite *model.Suite, result *model.SuiteResult, cfg feedback.SuiteConfig, category feedback.Category, names Namer) SuiteFeedback {
	sf := SuiteFeedback{
		ID:        result.ID,
		SuiteID:   suite.ID,
		SuiteName: suite.Name,
		Fdbk:      cfg,
		Cases:     []CaseFeedback{},
		resultID:  result.ID,
	}
	if cfg.ShowStudentDescription {
		sf.StudentDescription = stringPtr(suite.StudentDescription)
	}
	if suite.Setup != nil {
		hasSetupResult := result.SetupReturnCode != nil || result.SetupTimedOut
		if hasSetupResult && cfg.ShowsSetup() {
			sf.SetupName = stringPtr(suite.Setup.Name)
		}
		if cfg.ShowSetupReturnCode {
			sf.SetupReturnCode = result.SetupReturnCode
		}
		if cfg.ShowSetupTimedOut {
			sf.SetupTimedOut = boolPtr(result.SetupTimedOut)
		}
		if cfg.ShowSetupStdout {
			sf.showStdout = true
			sf.SetupStdoutTruncated = boolPtr(result.SetupStdoutTruncated)
		}
		if cfg.ShowSetupStderr {
			sf.showStderr = true
			sf.SetupStderrTruncated = boolPtr(result.SetupStderrTruncated)
		}
	}

	byCase := make(map[int64]*model.CaseResult, len(result.CaseResults))
	for i := range result.CaseResults {
		byCase[result.CaseResults[i].CaseID] = &result.CaseResults[i]
	}

	// Only the normal category singles out the first failed case.
	firstFailureFound := category != feedback.Normal
	var visible []CaseFeedback
	for i := range suite.Cases {
		c := &suite.Cases[i]
		cr, ok := byCase[c.ID]
		if !ok {
			continue
		}
		firstFailure := false
		if !firstFailureFound && caseFailed(c, cr) {
			firstFailure = true
			firstFailureFound = true
		}
		caseCfg := c.Feedback.For(category)
		if !caseCfg.Visible {
			continue
		}
		visible = append(visible, projectCase(c, cr, caseCfg, category, firstFailure, names))
	}

	for _, cf := range visible {
		sf.TotalPoints += cf.TotalPoints
		sf.TotalPointsPossible += cf.TotalPointsPossible
	}
	if cfg.ShowIndividualTests && visible != nil {
		sf.Cases = visible
	}
	return sf
}

func projectCase(c *model.Case, result *model.CaseResult, cfg feedback.CaseConfig, category feedback.Category, firstFailure bool, names Namer) CaseFeedback {
	cf := CaseFeedback{
		ID:       result.ID,
		CaseID:   c.ID,
		CaseName: displayName(c, cfg.NameFdbk, names),
		Fdbk:     cfg,
		Commands: []CommandFeedback{},
	}
	if cfg.ShowStudentDescription {
		cf.StudentDescription = stringPtr(c.StudentDescription)
	}

	byCommand := make(map[int64]*model.CommandResult, len(result.CommandResults))
	for i := range result.CommandResults {
		byCommand[result.CommandResults[i].CommandID] = &result.CommandResults[i]
	}

	var visible []CommandFeedback
	total := 0
	for i := range c.Commands {
		cmd := &c.Commands[i]
		res, ok := byCommand[cmd.ID]
		if !ok {
			continue
		}
		cmdCfg := cmd.Feedback.For(category)
		if firstFailure {
			cmdCfg = cmd.Feedback.ForFirstFailure(category)
		}
		if !cmdCfg.Visible {
			continue
		}
		cmdFb := projectCommand(cmd, res, cmdCfg)
		total += cmdFb.TotalPoints
		cf.TotalPointsPossible += cmdFb.TotalPointsPossible
		visible = append(visible, cmdFb)
	}
	cf.TotalPoints = max(0, total)
	if cfg.ShowIndividualCommands && visible != nil {
		cf.Commands = visible
	}
	return cf
}

// caseFailed reports whether any applicable dimension of any command in the
// case came out incorrect, with timeouts counting as failures.
func caseFailed(c *model.Case, result *model.CaseResult) bool {
	byCommand := make(map[int64]*model.CommandResult, len(result.CommandResults))
	for i := range result.CommandResults {
		byCommand[result.CommandResults[i].CommandID] = &result.CommandResults[i]
	}
	for i := range c.Commands {
		res, ok := byCommand[c.Commands[i].ID]
		if !ok {
			continue
		}
		for _, d := range dimensions(&c.Commands[i], res, feedback.MaxCommandConfig()) {
			if d.applicable && d.correct != nil && !*d.correct {
				return true
			}
		}
	}
	return false
}

func stringPtr(s string) *string {
	return &s
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}
