package orchestrator

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"autograde/internal/common/db"
	"autograde/internal/grading/diff"
	"autograde/internal/grading/model"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/runner"
	"autograde/internal/grading/sandbox"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

func (o *Orchestrator) gradeCase(ctx context.Context, h sandbox.Handle, sub *model.Submission, suiteResult *model.SuiteResult, c *model.Case) error {
	var caseResult *model.CaseResult
	err := o.recoverable.Do(ctx, func(ctx context.Context) error {
		var err error
		caseResult, err = o.repo.GetOrCreateCaseResult(ctx, nil, suiteResult.ID, c.ID)
		return err
	})
	if err != nil {
		if appErr.Is(err, appErr.IntegrityViolation) {
			logger.Info(ctx, "case deleted during grading, skipping", zap.Int64("case_id", c.ID))
			return nil
		}
		return err
	}

	for i := range c.Commands {
		if err := o.gradeCommand(ctx, h, sub, suiteResult, caseResult, &c.Commands[i]); err != nil {
			return err
		}
	}
	logger.Debug(ctx, "case graded", zap.Int64("case_id", c.ID), zap.String("case", c.Name))
	return nil
}

func (o *Orchestrator) gradeCommand(ctx context.Context, h sandbox.Handle, sub *model.Submission, suiteResult *model.SuiteResult, caseResult *model.CaseResult, cmd *model.Command) error {
	res, err := o.runner.RunCommand(ctx, h, *cmd, runner.Inputs{
		InstructorFile: o.files.OpenInstructorFile,
		SetupOutput: func(ctx context.Context, stream model.OutputStream) (io.ReadCloser, error) {
			return o.outputs.Open(ctx, model.SetupOutputKey(sub.ID, suiteResult.ID, stream))
		},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	result := model.CommandResult{
		CaseResultID:    caseResult.ID,
		CommandID:       cmd.ID,
		ReturnCode:      res.ReturnCode,
		TimedOut:        res.TimedOut,
		StdoutTruncated: res.Stdout.Truncated,
		StderrTruncated: res.Stderr.Truncated,
	}
	if res.ReturnCode != nil {
		result.ReturnCodeCorrect = cmd.ReturnCodeCorrect(*res.ReturnCode)
	} else if cmd.ChecksReturnCode() {
		// The command never ran.
		result.ReturnCodeCorrect = boolPtr(false)
	}
	if cmd.ExpectedStdout.Checked() {
		d, err := o.compare(ctx, cmd.ExpectedStdout, res.Stdout, cmd.Diff)
		if err != nil {
			return err
		}
		result.StdoutCorrect = boolPtr(d.Pass)
	}
	if cmd.ExpectedStderr.Checked() {
		d, err := o.compare(ctx, cmd.ExpectedStderr, res.Stderr, cmd.Diff)
		if err != nil {
			return err
		}
		result.StderrCorrect = boolPtr(d.Pass)
	}

	err = o.recoverable.Do(ctx, func(ctx context.Context) error {
		return o.repo.Transaction(ctx, func(tx db.Transaction) error {
			if err := o.repo.UpsertCommandResult(ctx, tx, &result); err != nil {
				return err
			}
			return outputs.PutAll(ctx, o.outputs,
				outputs.Item{Key: model.CommandOutputKey(sub.ID, result.ID, model.Stdout), Reader: res.Stdout.Reader(), Size: res.Stdout.Size()},
				outputs.Item{Key: model.CommandOutputKey(sub.ID, result.ID, model.Stderr), Reader: res.Stderr.Reader(), Size: res.Stderr.Size()},
			)
		})
	})
	if err != nil {
		if appErr.Is(err, appErr.IntegrityViolation) {
			logger.Info(ctx, "command deleted during grading, skipping", zap.Int64("command_id", cmd.ID))
			return nil
		}
		return err
	}
	logger.Debug(ctx, "command graded",
		zap.Int64("command_id", cmd.ID),
		zap.Int64("command_result_id", result.ID),
		zap.Bool("timed_out", result.TimedOut),
	)
	return nil
}

// compare diffs the captured stream against the expectation, read from the
// literal text or from the instructor file's local copy.
func (o *Orchestrator) compare(ctx context.Context, expected model.OutputExpectation, actual *runner.Output, opts diff.Options) (diff.Result, error) {
	var want io.Reader
	switch expected.Source {
	case model.ExpectedOutputText:
		want = strings.NewReader(expected.Text)
	case model.ExpectedOutputInstructorFile:
		if expected.File == nil {
			return diff.Result{}, appErr.New(appErr.InvalidValue).WithMessage("expected output file is not set")
		}
		path, err := o.files.InstructorFilePath(ctx, *expected.File)
		if err != nil {
			return diff.Result{}, err
		}
		f, err := os.Open(path)
		if err != nil {
			return diff.Result{}, appErr.Wrapf(err, appErr.StorageError, "open expected output failed")
		}
		defer f.Close()
		want = f
	default:
		return diff.Result{Pass: true}, nil
	}
	res, err := diff.CompareReaders(want, actual.Reader(), opts)
	if err != nil {
		return diff.Result{}, appErr.Wrapf(err, appErr.StorageError, "read output for diff failed")
	}
	return res, nil
}

func boolPtr(v bool) *bool {
	return &v
}
