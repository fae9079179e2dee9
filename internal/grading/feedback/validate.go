package feedback

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	pkgerrors "autograde/pkg/errors"
)

const levelEnum = `{"type": "string", "enum": ["no_feedback", "correct_or_incorrect", "expected_and_actual"]}`

const definitions = `{
	"command": {
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"visible": {"type": "boolean"},
			"return_code_fdbk_level": ` + levelEnum + `,
			"stdout_fdbk_level": ` + levelEnum + `,
			"stderr_fdbk_level": ` + levelEnum + `,
			"show_points": {"type": "boolean"},
			"show_actual_return_code": {"type": "boolean"},
			"show_actual_stdout": {"type": "boolean"},
			"show_actual_stderr": {"type": "boolean"},
			"show_whether_timed_out": {"type": "boolean"},
			"show_student_description": {"type": "boolean"}
		}
	},
	"case": {
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"visible": {"type": "boolean"},
			"show_individual_commands": {"type": "boolean"},
			"show_student_description": {"type": "boolean"},
			"name_fdbk": {"type": "string", "enum": ["show_real_name", "deterministically_obfuscate", "randomly_obfuscate"]}
		}
	},
	"suite": {
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"visible": {"type": "boolean"},
			"show_individual_tests": {"type": "boolean"},
			"show_setup_return_code": {"type": "boolean"},
			"show_setup_timed_out": {"type": "boolean"},
			"show_setup_stdout": {"type": "boolean"},
			"show_setup_stderr": {"type": "boolean"},
			"show_student_description": {"type": "boolean"}
		}
	}
}`

func configSetSchema(def string, firstFailed bool) string {
	ref := `{"$ref": "#/definitions/` + def + `"}`
	props := []string{
		`"normal_fdbk_config": ` + ref,
		`"ultimate_submission_fdbk_config": ` + ref,
		`"past_limit_submission_fdbk_config": ` + ref,
		`"staff_viewer_fdbk_config": ` + ref,
	}
	if firstFailed {
		props = append(props, `"first_failed_test_normal_fdbk_config": {"oneOf": [{"type": "null"}, `+ref+`]}`)
	}
	return `{
		"definitions": ` + definitions + `,
		"type": "object",
		"additionalProperties": false,
		"properties": {` + strings.Join(props, ",") + `}
	}`
}

func singleSchema(def string) string {
	return `{"definitions": ` + definitions + `, "$ref": "#/definitions/` + def + `"}`
}

var (
	commandSchema    = mustSchema(singleSchema("command"))
	caseSchema       = mustSchema(singleSchema("case"))
	suiteSchema      = mustSchema(singleSchema("suite"))
	commandSetSchema = mustSchema(configSetSchema("command", true))
	caseSetSchema    = mustSchema(configSetSchema("case", false))
	suiteSetSchema   = mustSchema(configSetSchema("suite", false))
)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic("feedback: invalid schema: " + err.Error())
	}
	return schema
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.FeedbackConfigInvalid, "feedback config is not valid json")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return pkgerrors.Newf(pkgerrors.FeedbackConfigInvalid, "invalid feedback config: %s", strings.Join(msgs, "; ")).
		WithDetail("errors", msgs)
}

// ValidateCommandConfig checks one command config document.
func ValidateCommandConfig(raw []byte) error { return validate(commandSchema, raw) }

// ValidateCaseConfig checks one case config document.
func ValidateCaseConfig(raw []byte) error { return validate(caseSchema, raw) }

// ValidateSuiteConfig checks one suite config document.
func ValidateSuiteConfig(raw []byte) error { return validate(suiteSchema, raw) }

// DecodeCommandConfig validates raw and applies it on top of base.
// Fields missing from raw keep the value from base.
func DecodeCommandConfig(raw []byte, base CommandConfig) (CommandConfig, error) {
	if err := ValidateCommandConfig(raw); err != nil {
		return CommandConfig{}, err
	}
	return decodeOnto(raw, base)
}

// DecodeCommandFeedbackConfigs decodes a stored per-category document.
// Empty input yields the defaults.
func DecodeCommandFeedbackConfigs(raw []byte) (CommandFeedbackConfigs, error) {
	if len(raw) == 0 {
		return DefaultCommandFeedbackConfigs(), nil
	}
	if err := validate(commandSetSchema, raw); err != nil {
		return CommandFeedbackConfigs{}, err
	}
	out, err := decodeOnto(raw, DefaultCommandFeedbackConfigs())
	if err != nil {
		return CommandFeedbackConfigs{}, err
	}
	// The override starts from the normal defaults, not from zero values.
	var probe struct {
		FirstFailed json.RawMessage `json:"first_failed_test_normal_fdbk_config"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && len(probe.FirstFailed) > 0 && string(probe.FirstFailed) != "null" {
		override, err := decodeOnto([]byte(probe.FirstFailed), DefaultCommandConfig())
		if err != nil {
			return CommandFeedbackConfigs{}, err
		}
		out.FirstFailedTestNormal = &override
	}
	return out, nil
}

func DecodeCaseFeedbackConfigs(raw []byte) (CaseFeedbackConfigs, error) {
	if len(raw) == 0 {
		return DefaultCaseFeedbackConfigs(), nil
	}
	if err := validate(caseSetSchema, raw); err != nil {
		return CaseFeedbackConfigs{}, err
	}
	return decodeOnto(raw, DefaultCaseFeedbackConfigs())
}

func DecodeSuiteFeedbackConfigs(raw []byte) (SuiteFeedbackConfigs, error) {
	if len(raw) == 0 {
		return DefaultSuiteFeedbackConfigs(), nil
	}
	if err := validate(suiteSetSchema, raw); err != nil {
		return SuiteFeedbackConfigs{}, err
	}
	return decodeOnto(raw, DefaultSuiteFeedbackConfigs())
}

func decodeOnto[T any](raw []byte, base T) (T, error) {
	out := base
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, pkgerrors.Wrapf(err, pkgerrors.FeedbackConfigInvalid, "decode feedback config")
	}
	return out, nil
}
