package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"autograde/internal/grading/model"
	"autograde/internal/grading/notify"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/sandbox"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

// errSuiteDeleted stops grading a suite whose rows vanished mid-grade.
var errSuiteDeleted = errors.New("suite deleted during grading")

// SandboxName is unique per grading call.
func SandboxName(submissionID, suiteID int64) string {
	id := uuid.New()
	return fmt.Sprintf("submission%d-suite%d-%x", submissionID, suiteID, id[:])
}

// gradeSuite wraps gradeSuiteSteps with the failure policy: deleted suites
// are skipped, rejections pass through, anything else marks the submission
// as error and is returned for the task retry.
func (o *Orchestrator) gradeSuite(ctx context.Context, sub *model.Submission, suite *model.Suite, caseFilter []int64) error {
	ctx = logger.WithGrading(ctx, sub.ID, suite.ID)
	logger.Info(ctx, "grading suite", zap.String("suite", suite.Name), zap.Int("case_filter", len(caseFilter)))

	err := o.gradeSuiteSteps(ctx, sub, suite, caseFilter)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errSuiteDeleted):
		logger.Info(ctx, "suite deleted during grading, skipping")
		return nil
	case appErr.Is(err, appErr.SubmissionRejected):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		o.markError(ctx, sub, err)
		return err
	}
}

func (o *Orchestrator) gradeSuiteSteps(ctx context.Context, sub *model.Submission, suite *model.Suite, caseFilter []int64) error {
	var result *model.SuiteResult
	err := o.recoverable.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = o.repo.GetOrCreateSuiteResult(ctx, nil, sub.ID, suite.ID)
		return err
	})
	if err != nil {
		if appErr.Is(err, appErr.IntegrityViolation) {
			return errSuiteDeleted
		}
		return err
	}

	h, err := o.sandboxes.Create(ctx, sandbox.Spec{
		Name:               SandboxName(sub.ID, suite.ID),
		Image:              suite.SandboxImage,
		AllowNetworkAccess: suite.AllowNetworkAccess,
		Env:                map[string]string{"usernames": sub.UsernamesEnv()},
	})
	if err != nil {
		return err
	}
	defer o.teardown(ctx, h, sub, suite)

	if err := o.populate(ctx, h, sub, suite); err != nil {
		return err
	}
	if err := o.runSetup(ctx, h, sub, suite, result); err != nil {
		return err
	}

	filter := mapset.NewSet[int64](caseFilter...)
	for i := range suite.Cases {
		c := &suite.Cases[i]
		if filter.Cardinality() > 0 && !filter.Contains(c.ID) {
			continue
		}
		if err := o.gradeCase(ctx, h, sub, result, c); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) populate(ctx context.Context, h sandbox.Handle, sub *model.Submission, suite *model.Suite) error {
	instructor, err := o.files.InstructorFiles(ctx, suite.InstructorFiles)
	if err != nil {
		return err
	}
	submitted, err := o.files.SubmissionFiles(ctx, sub, suite.StudentFiles)
	if err != nil {
		return err
	}
	return h.AddFiles(ctx, append(instructor, submitted...)...)
}

// runSetup truncates the setup outputs, runs the setup command if there is
// one and saves the suite result. A failed setup rejects the submission when
// the suite asks for it.
func (o *Orchestrator) runSetup(ctx context.Context, h sandbox.Handle, sub *model.Submission, suite *model.Suite, result *model.SuiteResult) error {
	stdoutKey := model.SetupOutputKey(sub.ID, result.ID, model.Stdout)
	stderrKey := model.SetupOutputKey(sub.ID, result.ID, model.Stderr)
	for _, key := range []string{stdoutKey, stderrKey} {
		if err := o.outputs.Truncate(ctx, key); err != nil {
			return err
		}
	}

	if suite.Setup == nil || strings.TrimSpace(suite.Setup.Cmd) == "" {
		result.SetupReturnCode = nil
		result.SetupTimedOut = false
		result.SetupStdoutTruncated = false
		result.SetupStderrTruncated = false
		return o.saveSuiteResult(ctx, result)
	}

	res, err := o.runner.RunSetup(ctx, h, *suite.Setup)
	if err != nil {
		return err
	}
	defer res.Close()

	result.SetupReturnCode = res.ReturnCode
	result.SetupTimedOut = res.TimedOut
	result.SetupStdoutTruncated = res.Stdout.Truncated
	result.SetupStderrTruncated = res.Stderr.Truncated

	if err := outputs.PutAll(ctx, o.outputs,
		outputs.Item{Key: stdoutKey, Reader: res.Stdout.Reader(), Size: res.Stdout.Size()},
		outputs.Item{Key: stderrKey, Reader: res.Stderr.Reader(), Size: res.Stderr.Size()},
	); err != nil {
		return err
	}
	if err := o.saveSuiteResult(ctx, result); err != nil {
		return err
	}

	failed := res.ReturnCode == nil || *res.ReturnCode != 0 || res.TimedOut
	logger.Info(ctx, "setup finished", zap.Bool("failed", failed), zap.Bool("timed_out", res.TimedOut))
	if failed && suite.RejectSubmissionIfSetupFails {
		return o.reject(ctx, sub, suite)
	}
	return nil
}

func (o *Orchestrator) saveSuiteResult(ctx context.Context, result *model.SuiteResult) error {
	err := o.recoverable.Do(ctx, func(ctx context.Context) error {
		return o.repo.UpdateSuiteResult(ctx, nil, result)
	})
	if appErr.Is(err, appErr.IntegrityViolation) {
		return errSuiteDeleted
	}
	return err
}

// teardown destroys the sandbox. Stop and remove failures only happen after
// grading finished, so they page operators instead of failing the submission.
func (o *Orchestrator) teardown(ctx context.Context, h sandbox.Handle, sub *model.Submission, suite *model.Suite) {
	ctx = context.WithoutCancel(ctx)
	err := h.Destroy(ctx)
	if err == nil {
		return
	}
	if !sandbox.IsTeardownError(err) {
		logger.Error(ctx, "destroy sandbox failed", zap.String("sandbox", h.Name()), zap.Error(err))
		return
	}
	kind := notify.AlertSandboxNotDestroyed
	if errors.Is(err, sandbox.ErrNotStopped) {
		kind = notify.AlertSandboxNotStopped
	}
	o.notifier.Notify(ctx, notify.Alert{
		Kind:    kind,
		Subject: fmt.Sprintf("%s error on autograder", kind),
		Message: fmt.Sprintf("Error tearing down sandbox %s. If the sandbox was not stopped this is urgent: "+
			"find the host running it and run \"docker kill %s\".", h.Name(), h.Name()),
		Sandbox:      h.Name(),
		SubmissionID: sub.ID,
		SuiteID:      suite.ID,
		Error:        err.Error(),
	})
}
