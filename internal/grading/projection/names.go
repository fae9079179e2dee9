package projection

import (
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
)

// Namer produces obscured case names.
type Namer interface {
	// Deterministic returns the same name for the same case every time.
	Deterministic(caseID int64) string
	// Random returns a fresh name on every call.
	Random() string
}

type uuidNamer struct{}

func (uuidNamer) Deterministic(caseID int64) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("ag_test_case:"+strconv.FormatInt(caseID, 10)))
	return "test" + hex.EncodeToString(id[:])
}

func (uuidNamer) Random() string {
	id := uuid.New()
	return "test" + hex.EncodeToString(id[:])
}

func displayName(c *model.Case, mode feedback.NameFeedback, names Namer) string {
	switch mode {
	case feedback.DeterministicallyObscure:
		return names.Deterministic(c.ID)
	case feedback.RandomlyObscure:
		return names.Random()
	default:
		return c.Name
	}
}
