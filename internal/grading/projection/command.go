package projection

import (
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
)

// dimension is one checked aspect of a command (return code, stdout or
// stderr) with its configuration already resolved.
type dimension struct {
	applicable bool
	level      feedback.ValueFeedbackLevel
	// correct is the stored correctness, forced to false for applicable
	// dimensions of a timed out command that has none recorded.
	correct   *bool
	points    int
	deduction int
}

const (
	dimReturnCode = iota
	dimStdout
	dimStderr
)

func dimensions(cmd *model.Command, res *model.CommandResult, cfg feedback.CommandConfig) [3]dimension {
	dims := [3]dimension{
		dimReturnCode: {
			applicable: cmd.ChecksReturnCode(),
			level:      cfg.ReturnCodeFdbkLevel,
			correct:    res.ReturnCodeCorrect,
			points:     cmd.PointsForCorrectReturnCode,
			deduction:  cmd.DeductionForWrongReturnCode,
		},
		dimStdout: {
			applicable: cmd.ExpectedStdout.Checked(),
			level:      cfg.StdoutFdbkLevel,
			correct:    res.StdoutCorrect,
			points:     cmd.PointsForCorrectStdout,
			deduction:  cmd.DeductionForWrongStdout,
		},
		dimStderr: {
			applicable: cmd.ExpectedStderr.Checked(),
			level:      cfg.StderrFdbkLevel,
			correct:    res.StderrCorrect,
			points:     cmd.PointsForCorrectStderr,
			deduction:  cmd.DeductionForWrongStderr,
		},
	}
	for i := range dims {
		if dims[i].applicable && dims[i].correct == nil && res.TimedOut {
			dims[i].correct = boolPtr(false)
		}
	}
	return dims
}

// visible reports whether correctness and points may be shown at all.
func (d dimension) visible() bool {
	return d.applicable && d.level.ShowsCorrectness() && d.correct != nil
}

func (d dimension) shownCorrect() *bool {
	if !d.visible() {
		return nil
	}
	return d.correct
}

// score returns the awarded and possible points, nil when hidden.
func (d dimension) score(showPoints bool) (*int, *int) {
	if !showPoints || !d.visible() {
		return nil, nil
	}
	if *d.correct {
		return intPtr(d.points), intPtr(d.points)
	}
	return intPtr(d.deduction), intPtr(d.points)
}

// diffVisible reports whether the expected/actual diff may be shown.
func (d dimension) diffVisible() bool {
	return d.applicable && d.level == feedback.ExpectedAndActual
}

func projectCommand(cmd *model.Command, res *model.CommandResult, cfg feedback.CommandConfig) CommandFeedback {
	dims := dimensions(cmd, res, cfg)
	fb := CommandFeedback{
		ID:          res.ID,
		CommandID:   cmd.ID,
		CommandName: cmd.Name,
		Fdbk:        cfg,
		cmd:         cmd,
	}

	rc := dims[dimReturnCode]
	fb.ReturnCodeCorrect = rc.shownCorrect()
	fb.ReturnCodePoints, fb.ReturnCodePointsPossible = rc.score(cfg.ShowPoints)
	if rc.level == feedback.ExpectedAndActual {
		expected := cmd.ExpectedReturnCode
		fb.ExpectedReturnCode = &expected
	}
	if rc.level == feedback.ExpectedAndActual || cfg.ShowActualReturnCode {
		fb.ActualReturnCode = res.ReturnCode
	}

	out := dims[dimStdout]
	fb.StdoutCorrect = out.shownCorrect()
	fb.StdoutPoints, fb.StdoutPointsPossible = out.score(cfg.ShowPoints)
	fb.diffStdout = out.diffVisible()
	fb.showStdout = cfg.ShowActualStdout || out.level == feedback.ExpectedAndActual
	if fb.showStdout {
		fb.StdoutTruncated = boolPtr(res.StdoutTruncated)
	}

	errDim := dims[dimStderr]
	fb.StderrCorrect = errDim.shownCorrect()
	fb.StderrPoints, fb.StderrPointsPossible = errDim.score(cfg.ShowPoints)
	fb.diffStderr = errDim.diffVisible()
	fb.showStderr = cfg.ShowActualStderr || errDim.level == feedback.ExpectedAndActual
	if fb.showStderr {
		fb.StderrTruncated = boolPtr(res.StderrTruncated)
	}

	if cfg.ShowWhetherTimedOut {
		fb.TimedOut = boolPtr(res.TimedOut)
	}

	if cfg.ShowPoints {
		for _, p := range []*int{fb.ReturnCodePoints, fb.StdoutPoints, fb.StderrPoints} {
			if p != nil {
				fb.TotalPoints += *p
			}
		}
		for _, p := range []*int{fb.ReturnCodePointsPossible, fb.StdoutPointsPossible, fb.StderrPointsPossible} {
			if p != nil {
				fb.TotalPointsPossible += *p
			}
		}
	}

	if cfg.ShowStudentDescription {
		fb.StudentDescription = stringPtr(cmd.StudentDescription)
		if cmd.StudentOnFailDescription != "" && anyFalse(fb.ReturnCodeCorrect, fb.StdoutCorrect, fb.StderrCorrect) {
			fb.StudentOnFailDescription = stringPtr(cmd.StudentOnFailDescription)
		}
	}
	return fb
}

func anyFalse(values ...*bool) bool {
	for _, v := range values {
		if v != nil && !*v {
			return true
		}
	}
	return false
}
