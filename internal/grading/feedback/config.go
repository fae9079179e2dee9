package feedback

// CommandConfig is the visibility setting of one command for one category.
type CommandConfig struct {
	Visible bool `json:"visible"`

	ReturnCodeFdbkLevel ValueFeedbackLevel `json:"return_code_fdbk_level"`
	StdoutFdbkLevel     ValueFeedbackLevel `json:"stdout_fdbk_level"`
	StderrFdbkLevel     ValueFeedbackLevel `json:"stderr_fdbk_level"`

	ShowPoints             bool `json:"show_points"`
	ShowActualReturnCode   bool `json:"show_actual_return_code"`
	ShowActualStdout       bool `json:"show_actual_stdout"`
	ShowActualStderr       bool `json:"show_actual_stderr"`
	ShowWhetherTimedOut    bool `json:"show_whether_timed_out"`
	ShowStudentDescription bool `json:"show_student_description"`
}

// CaseConfig is the visibility setting of one case for one category.
type CaseConfig struct {
	Visible                bool         `json:"visible"`
	ShowIndividualCommands bool         `json:"show_individual_commands"`
	ShowStudentDescription bool         `json:"show_student_description"`
	NameFdbk               NameFeedback `json:"name_fdbk"`
}

// SuiteConfig is the visibility setting of one suite for one category.
type SuiteConfig struct {
	Visible                bool `json:"visible"`
	ShowIndividualTests    bool `json:"show_individual_tests"`
	ShowSetupReturnCode    bool `json:"show_setup_return_code"`
	ShowSetupTimedOut      bool `json:"show_setup_timed_out"`
	ShowSetupStdout        bool `json:"show_setup_stdout"`
	ShowSetupStderr        bool `json:"show_setup_stderr"`
	ShowStudentDescription bool `json:"show_student_description"`
}

// ShowsSetup reports whether any part of the setup result is visible.
func (c SuiteConfig) ShowsSetup() bool {
	return c.ShowSetupReturnCode || c.ShowSetupTimedOut || c.ShowSetupStdout || c.ShowSetupStderr
}

// CommandFeedbackConfigs holds a command's per-category settings.
// FirstFailedTestNormal, when set, replaces Normal for commands of the first
// failed case in a suite.
type CommandFeedbackConfigs struct {
	Normal                CommandConfig  `json:"normal_fdbk_config"`
	FirstFailedTestNormal *CommandConfig `json:"first_failed_test_normal_fdbk_config"`
	UltimateSubmission    CommandConfig  `json:"ultimate_submission_fdbk_config"`
	PastLimitSubmission   CommandConfig  `json:"past_limit_submission_fdbk_config"`
	StaffViewer           CommandConfig  `json:"staff_viewer_fdbk_config"`
}

// For resolves the configuration for category.
func (c CommandFeedbackConfigs) For(category Category) CommandConfig {
	switch category {
	case Normal:
		return c.Normal
	case PastLimitSubmission:
		return c.PastLimitSubmission
	case UltimateSubmission:
		return c.UltimateSubmission
	case StaffViewer:
		return c.StaffViewer
	default:
		return MaxCommandConfig()
	}
}

// ForFirstFailure resolves the configuration of a command that belongs to the
// first failed case. The override only applies to the normal category.
func (c CommandFeedbackConfigs) ForFirstFailure(category Category) CommandConfig {
	if category == Normal && c.FirstFailedTestNormal != nil {
		return *c.FirstFailedTestNormal
	}
	return c.For(category)
}

// CaseFeedbackConfigs holds a case's per-category settings.
type CaseFeedbackConfigs struct {
	Normal              CaseConfig `json:"normal_fdbk_config"`
	UltimateSubmission  CaseConfig `json:"ultimate_submission_fdbk_config"`
	PastLimitSubmission CaseConfig `json:"past_limit_submission_fdbk_config"`
	StaffViewer         CaseConfig `json:"staff_viewer_fdbk_config"`
}

func (c CaseFeedbackConfigs) For(category Category) CaseConfig {
	switch category {
	case Normal:
		return c.Normal
	case PastLimitSubmission:
		return c.PastLimitSubmission
	case UltimateSubmission:
		return c.UltimateSubmission
	case StaffViewer:
		return c.StaffViewer
	default:
		return MaxCaseConfig()
	}
}

// SuiteFeedbackConfigs holds a suite's per-category settings.
type SuiteFeedbackConfigs struct {
	Normal              SuiteConfig `json:"normal_fdbk_config"`
	UltimateSubmission  SuiteConfig `json:"ultimate_submission_fdbk_config"`
	PastLimitSubmission SuiteConfig `json:"past_limit_submission_fdbk_config"`
	StaffViewer         SuiteConfig `json:"staff_viewer_fdbk_config"`
}

func (c SuiteFeedbackConfigs) For(category Category) SuiteConfig {
	switch category {
	case Normal:
		return c.Normal
	case PastLimitSubmission:
		return c.PastLimitSubmission
	case UltimateSubmission:
		return c.UltimateSubmission
	case StaffViewer:
		return c.StaffViewer
	default:
		return MaxSuiteConfig()
	}
}

// MaxCommandConfig shows everything.
func MaxCommandConfig() CommandConfig {
	return CommandConfig{
		Visible:                true,
		ReturnCodeFdbkLevel:    ExpectedAndActual,
		StdoutFdbkLevel:        ExpectedAndActual,
		StderrFdbkLevel:        ExpectedAndActual,
		ShowPoints:             true,
		ShowActualReturnCode:   true,
		ShowActualStdout:       true,
		ShowActualStderr:       true,
		ShowWhetherTimedOut:    true,
		ShowStudentDescription: true,
	}
}

// DefaultCommandConfig is the hidden-by-default setting used for the normal
// and past limit categories.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Visible:                true,
		ReturnCodeFdbkLevel:    NoFeedback,
		StdoutFdbkLevel:        NoFeedback,
		StderrFdbkLevel:        NoFeedback,
		ShowStudentDescription: true,
	}
}

func defaultUltimateCommandConfig() CommandConfig {
	return CommandConfig{
		Visible:                true,
		ReturnCodeFdbkLevel:    CorrectOrIncorrect,
		StdoutFdbkLevel:        CorrectOrIncorrect,
		StderrFdbkLevel:        CorrectOrIncorrect,
		ShowPoints:             true,
		ShowActualReturnCode:   true,
		ShowWhetherTimedOut:    true,
		ShowStudentDescription: true,
	}
}

// DefaultCommandFeedbackConfigs returns the settings a new command starts with.
func DefaultCommandFeedbackConfigs() CommandFeedbackConfigs {
	pastLimit := DefaultCommandConfig()
	pastLimit.ShowStudentDescription = false
	return CommandFeedbackConfigs{
		Normal:              DefaultCommandConfig(),
		UltimateSubmission:  defaultUltimateCommandConfig(),
		PastLimitSubmission: pastLimit,
		StaffViewer:         MaxCommandConfig(),
	}
}

func MaxCaseConfig() CaseConfig {
	return CaseConfig{
		Visible:                true,
		ShowIndividualCommands: true,
		ShowStudentDescription: true,
		NameFdbk:               ShowRealName,
	}
}

// DefaultCaseFeedbackConfigs returns the settings a new case starts with.
func DefaultCaseFeedbackConfigs() CaseFeedbackConfigs {
	pastLimit := MaxCaseConfig()
	pastLimit.ShowStudentDescription = false
	return CaseFeedbackConfigs{
		Normal:              MaxCaseConfig(),
		UltimateSubmission:  MaxCaseConfig(),
		PastLimitSubmission: pastLimit,
		StaffViewer:         MaxCaseConfig(),
	}
}

func MaxSuiteConfig() SuiteConfig {
	return SuiteConfig{
		Visible:                true,
		ShowIndividualTests:    true,
		ShowSetupReturnCode:    true,
		ShowSetupTimedOut:      true,
		ShowSetupStdout:        true,
		ShowSetupStderr:        true,
		ShowStudentDescription: true,
	}
}

// DefaultSuiteConfig shows setup status but not setup output.
func DefaultSuiteConfig() SuiteConfig {
	return SuiteConfig{
		Visible:                true,
		ShowIndividualTests:    true,
		ShowSetupReturnCode:    true,
		ShowSetupTimedOut:      true,
		ShowStudentDescription: true,
	}
}

// DefaultSuiteFeedbackConfigs returns the settings a new suite starts with.
func DefaultSuiteFeedbackConfigs() SuiteFeedbackConfigs {
	pastLimit := DefaultSuiteConfig()
	pastLimit.ShowStudentDescription = false
	return SuiteFeedbackConfigs{
		Normal:              DefaultSuiteConfig(),
		UltimateSubmission:  DefaultSuiteConfig(),
		PastLimitSubmission: pastLimit,
		StaffViewer:         MaxSuiteConfig(),
	}
}
