package projection

import (
	"bytes"
	"context"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"autograde/internal/grading/diff"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
)

const defaultLoadConcurrency = 8

// OutputReader opens stored output streams by key.
type OutputReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ExpectedReader opens instructor files holding expected output.
type ExpectedReader interface {
	OpenInstructorFile(ctx context.Context, file model.InstructorFile) (io.ReadCloser, error)
}

// LoadOutputs reads the output streams and computes the diffs that the
// projection made visible. Hidden streams are never read. A stream that was
// never stored reads as empty.
func (f *SubmissionFeedback) LoadOutputs(ctx context.Context, outputs OutputReader, expected ExpectedReader) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultLoadConcurrency)

	load := func(key string, dst **string) {
		g.Go(func() error {
			data, err := readOutput(ctx, outputs, key)
			if err != nil {
				return err
			}
			s := string(data)
			*dst = &s
			return nil
		})
	}
	compare := func(key string, want model.OutputExpectation, opts diff.Options, dst **diff.Result) {
		g.Go(func() error {
			res, err := diffOutput(ctx, outputs, expected, key, want, opts)
			if err != nil {
				return err
			}
			*dst = &res
			return nil
		})
	}

	for i := range f.Suites {
		suite := &f.Suites[i]
		if suite.showStdout {
			load(model.SetupOutputKey(f.SubmissionID, suite.resultID, model.Stdout), &suite.SetupStdout)
		}
		if suite.showStderr {
			load(model.SetupOutputKey(f.SubmissionID, suite.resultID, model.Stderr), &suite.SetupStderr)
		}
		for j := range suite.Cases {
			for k := range suite.Cases[j].Commands {
				cmd := &suite.Cases[j].Commands[k]
				stdoutKey := model.CommandOutputKey(f.SubmissionID, cmd.ID, model.Stdout)
				stderrKey := model.CommandOutputKey(f.SubmissionID, cmd.ID, model.Stderr)
				if cmd.showStdout {
					load(stdoutKey, &cmd.ActualStdout)
				}
				if cmd.showStderr {
					load(stderrKey, &cmd.ActualStderr)
				}
				if cmd.cmd == nil {
					continue
				}
				if cmd.diffStdout {
					compare(stdoutKey, cmd.cmd.ExpectedStdout, cmd.cmd.Diff, &cmd.StdoutDiff)
				}
				if cmd.diffStderr {
					compare(stderrKey, cmd.cmd.ExpectedStderr, cmd.cmd.Diff, &cmd.StderrDiff)
				}
			}
		}
	}
	return g.Wait()
}

func readOutput(ctx context.Context, outputs OutputReader, key string) ([]byte, error) {
	rc, err := outputs.Open(ctx, key)
	if err != nil {
		if appErr.Is(err, appErr.OutputNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read output %s failed", key)
	}
	return data, nil
}

func diffOutput(ctx context.Context, outputs OutputReader, expected ExpectedReader, key string, want model.OutputExpectation, opts diff.Options) (diff.Result, error) {
	actual, err := readOutput(ctx, outputs, key)
	if err != nil {
		return diff.Result{}, err
	}
	var wantReader io.Reader
	switch want.Source {
	case model.ExpectedOutputText:
		wantReader = strings.NewReader(want.Text)
	case model.ExpectedOutputInstructorFile:
		if want.File == nil || expected == nil {
			return diff.Result{}, appErr.New(appErr.InvalidValue).WithMessage("expected output file is not available")
		}
		rc, err := expected.OpenInstructorFile(ctx, *want.File)
		if err != nil {
			return diff.Result{}, err
		}
		defer rc.Close()
		wantReader = rc
	default:
		return diff.Result{Pass: true}, nil
	}
	res, err := diff.CompareReaders(wantReader, bytes.NewReader(actual), opts)
	if err != nil {
		return diff.Result{}, appErr.Wrapf(err, appErr.StorageError, "diff output %s failed", key)
	}
	return res, nil
}
