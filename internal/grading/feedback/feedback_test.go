package feedback

import (
	"testing"

	pkgerrors "autograde/pkg/errors"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Category
		wantErr bool
	}{
		{name: "normal", raw: "normal", want: Normal},
		{name: "past limit", raw: "past_limit_submission", want: PastLimitSubmission},
		{name: "ultimate", raw: "ultimate_submission", want: UltimateSubmission},
		{name: "staff", raw: "staff_viewer", want: StaffViewer},
		{name: "max", raw: " max ", want: Max},
		{name: "unknown", raw: "admin", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCategory(tt.raw)
			if tt.wantErr {
				if !pkgerrors.Is(err, pkgerrors.InvalidFeedbackCategory) {
					t.Fatalf("expected InvalidFeedbackCategory, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCommandDefaults(t *testing.T) {
	cfg := DefaultCommandFeedbackConfigs()

	normal := cfg.For(Normal)
	if normal.ReturnCodeFdbkLevel != NoFeedback || normal.StdoutFdbkLevel != NoFeedback || normal.StderrFdbkLevel != NoFeedback {
		t.Fatalf("expected normal levels to be no_feedback, got %+v", normal)
	}
	if normal.ShowPoints || normal.ShowActualStdout || normal.ShowWhetherTimedOut {
		t.Fatalf("expected normal flags off, got %+v", normal)
	}
	if !normal.Visible {
		t.Fatalf("expected normal to be visible")
	}

	ultimate := cfg.For(UltimateSubmission)
	if ultimate.StdoutFdbkLevel != CorrectOrIncorrect || !ultimate.ShowPoints || !ultimate.ShowActualReturnCode {
		t.Fatalf("unexpected ultimate config: %+v", ultimate)
	}
	if ultimate.ShowActualStdout {
		t.Fatalf("expected ultimate to hide actual stdout")
	}

	if cfg.For(PastLimitSubmission).ShowStudentDescription {
		t.Fatalf("expected past limit to hide descriptions")
	}
	if cfg.For(StaffViewer) != MaxCommandConfig() {
		t.Fatalf("expected staff viewer to default to max")
	}
}

func TestMaxIgnoresStoredConfig(t *testing.T) {
	cfg := CommandFeedbackConfigs{}
	if cfg.For(Max) != MaxCommandConfig() {
		t.Fatalf("expected max command config, got %+v", cfg.For(Max))
	}
	cases := CaseFeedbackConfigs{}
	if cases.For(Max) != MaxCaseConfig() {
		t.Fatalf("expected max case config, got %+v", cases.For(Max))
	}
	suites := SuiteFeedbackConfigs{}
	if suites.For(Max) != MaxSuiteConfig() {
		t.Fatalf("expected max suite config, got %+v", suites.For(Max))
	}
}

func TestForFirstFailure(t *testing.T) {
	override := MaxCommandConfig()
	override.ShowPoints = false
	cfg := DefaultCommandFeedbackConfigs()
	cfg.FirstFailedTestNormal = &override

	if got := cfg.ForFirstFailure(Normal); got != override {
		t.Fatalf("expected override for normal, got %+v", got)
	}
	if got := cfg.ForFirstFailure(UltimateSubmission); got != cfg.UltimateSubmission {
		t.Fatalf("expected ultimate config unchanged, got %+v", got)
	}

	cfg.FirstFailedTestNormal = nil
	if got := cfg.ForFirstFailure(Normal); got != cfg.Normal {
		t.Fatalf("expected normal config without override, got %+v", got)
	}
}

func TestCaseDefaults(t *testing.T) {
	cfg := DefaultCaseFeedbackConfigs()
	if !cfg.Normal.ShowStudentDescription || cfg.Normal.NameFdbk != ShowRealName {
		t.Fatalf("unexpected normal case config: %+v", cfg.Normal)
	}
	if cfg.PastLimitSubmission.ShowStudentDescription {
		t.Fatalf("expected past limit case to hide descriptions")
	}
}

func TestValidateCommandConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{name: "empty object", raw: `{}`, valid: true},
		{name: "full", raw: `{"visible": true, "stdout_fdbk_level": "expected_and_actual", "show_points": true}`, valid: true},
		{name: "bad level", raw: `{"stdout_fdbk_level": "everything"}`},
		{name: "bad flag type", raw: `{"show_points": "yes"}`},
		{name: "unknown field", raw: `{"show_valgrind": true}`},
		{name: "not json", raw: `{`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateCommandConfig([]byte(tt.raw))
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid && !pkgerrors.Is(err, pkgerrors.FeedbackConfigInvalid) {
				t.Fatalf("expected FeedbackConfigInvalid, got %v", err)
			}
		})
	}
}

func TestDecodeCommandConfigKeepsBase(t *testing.T) {
	got, err := DecodeCommandConfig([]byte(`{"show_points": true}`), DefaultCommandConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.ShowPoints {
		t.Fatalf("expected show_points to be applied")
	}
	if !got.Visible || got.ReturnCodeFdbkLevel != NoFeedback {
		t.Fatalf("expected missing fields to keep defaults, got %+v", got)
	}
}

func TestDecodeCommandFeedbackConfigs(t *testing.T) {
	got, err := DecodeCommandFeedbackConfigs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StaffViewer != MaxCommandConfig() {
		t.Fatalf("expected defaults for empty document")
	}

	raw := `{"normal_fdbk_config": {"show_points": true}, "first_failed_test_normal_fdbk_config": {"stdout_fdbk_level": "expected_and_actual"}}`
	got, err = DecodeCommandFeedbackConfigs([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstFailedTestNormal == nil || got.FirstFailedTestNormal.StdoutFdbkLevel != ExpectedAndActual {
		t.Fatalf("expected first failed override, got %+v", got.FirstFailedTestNormal)
	}
	if !got.Normal.ShowPoints {
		t.Fatalf("expected normal show_points")
	}

	if _, err := DecodeCommandFeedbackConfigs([]byte(`{"normal_fdbk_config": {"visible": 1}}`)); err == nil {
		t.Fatalf("expected error for invalid nested config")
	}
}

func TestDecodeSuiteFeedbackConfigs(t *testing.T) {
	got, err := DecodeSuiteFeedbackConfigs([]byte(`{"normal_fdbk_config": {"show_setup_stdout": true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Normal.ShowSetupStdout || !got.Normal.ShowSetupReturnCode {
		t.Fatalf("unexpected suite config: %+v", got.Normal)
	}
	if !got.Normal.ShowsSetup() {
		t.Fatalf("expected setup to be shown")
	}
}

func TestFirstFailedOverrideStartsFromDefaults(t *testing.T) {
	got, err := DecodeCommandFeedbackConfigs([]byte(`{"first_failed_test_normal_fdbk_config": {"show_points": true}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstFailedTestNormal == nil {
		t.Fatalf("expected override to be set")
	}
	if !got.FirstFailedTestNormal.Visible || !got.FirstFailedTestNormal.ShowPoints {
		t.Fatalf("expected defaults plus show_points, got %+v", *got.FirstFailedTestNormal)
	}
}
