package feedback

import (
	"strings"

	pkgerrors "autograde/pkg/errors"
)

// Category is the viewer context a projection is computed for.
type Category string

const (
	Normal              Category = "normal"
	PastLimitSubmission Category = "past_limit_submission"
	UltimateSubmission  Category = "ultimate_submission"
	StaffViewer         Category = "staff_viewer"
	// Max ignores every configuration and shows everything.
	Max Category = "max"
)

// Categories lists every category in a stable order.
var Categories = []Category{Normal, PastLimitSubmission, UltimateSubmission, StaffViewer, Max}

// ParseCategory maps a request parameter to a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	if c.Valid() {
		return c, nil
	}
	return "", pkgerrors.Newf(pkgerrors.InvalidFeedbackCategory, "unknown feedback category %q", raw)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Normal, PastLimitSubmission, UltimateSubmission, StaffViewer, Max:
		return true
	}
	return false
}

// ValueFeedbackLevel controls how much of a correctness dimension is shown.
type ValueFeedbackLevel string

const (
	NoFeedback         ValueFeedbackLevel = "no_feedback"
	CorrectOrIncorrect ValueFeedbackLevel = "correct_or_incorrect"
	ExpectedAndActual  ValueFeedbackLevel = "expected_and_actual"
)

// ShowsCorrectness reports whether the level reveals the correctness boolean.
func (l ValueFeedbackLevel) ShowsCorrectness() bool {
	return l == CorrectOrIncorrect || l == ExpectedAndActual
}

// NameFeedback controls how a test's name is displayed.
type NameFeedback string

const (
	ShowRealName             NameFeedback = "show_real_name"
	DeterministicallyObscure NameFeedback = "deterministically_obfuscate"
	RandomlyObscure          NameFeedback = "randomly_obfuscate"
)
