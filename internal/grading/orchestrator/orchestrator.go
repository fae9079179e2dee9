// Package orchestrator drives submissions through suite, case and command
// grading and keeps the submission status consistent under failures.
package orchestrator

import (
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"autograde/internal/common/db"
	"autograde/internal/grading/files"
	"autograde/internal/grading/model"
	"autograde/internal/grading/notify"
	"autograde/internal/grading/outputs"
	"autograde/internal/grading/repository"
	"autograde/internal/grading/retry"
	"autograde/internal/grading/runner"
	"autograde/internal/grading/sandbox"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

const (
	DefaultRecoverableAttempts = 10
	DefaultRecoverableBackoff  = 50 * time.Millisecond
	DefaultMaxRecoverableDelay = 2 * time.Second
)

// ResultCache is invalidated whenever stored results change.
type ResultCache interface {
	Invalidate(ctx context.Context, projectID, submissionID int64) error
	InvalidateProject(ctx context.Context, projectID int64) error
}

// Config holds orchestrator dependencies and settings.
type Config struct {
	Repository repository.Repository
	Sandboxes  sandbox.Factory
	Runner     *runner.Runner
	Files      files.Resolver
	Outputs    outputs.Store
	Notifier   notify.Notifier
	Cache      ResultCache

	RecoverableAttempts int
	RecoverableBackoff  time.Duration
}

// Orchestrator grades submissions.
type Orchestrator struct {
	repo        repository.Repository
	sandboxes   sandbox.Factory
	runner      *runner.Runner
	files       files.Resolver
	outputs     outputs.Store
	notifier    notify.Notifier
	cache       ResultCache
	recoverable retry.Policy
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Sandboxes == nil {
		return nil, errors.New("sandbox factory is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("file resolver is required")
	}
	if cfg.Outputs == nil {
		return nil, errors.New("output store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.LogNotifier{}
	}
	attempts := cfg.RecoverableAttempts
	if attempts <= 0 {
		attempts = DefaultRecoverableAttempts
	}
	backoff := cfg.RecoverableBackoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = DefaultRecoverableBackoff
	}
	return &Orchestrator{
		repo:      cfg.Repository,
		sandboxes: cfg.Sandboxes,
		runner:    cfg.Runner,
		files:     cfg.Files,
		outputs:   cfg.Outputs,
		notifier:  cfg.Notifier,
		cache:     cfg.Cache,
		recoverable: retry.Policy{
			Name:        "recoverable",
			MaxAttempts: attempts,
			Classify:    classifyRecoverable,
			Backoff:     retry.Exponential(backoff, DefaultMaxRecoverableDelay),
		},
	}, nil
}

// classifyRecoverable retries lock conflicts and lost unique-key races.
// A missing parent row is final.
func classifyRecoverable(err error) retry.Decision {
	if db.Retryable(err) {
		return retry.Retry
	}
	if _, ok := db.UniqueViolation(err); ok {
		return retry.Retry
	}
	return retry.Fatal
}

// GradeSubmission grades every suite of the submission's project. Deferred
// suites run after the submission is marked waiting_for_deferred.
func (o *Orchestrator) GradeSubmission(ctx context.Context, submissionID int64) error {
	sub, err := o.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return err
	}
	ctx = logger.WithGrading(ctx, sub.ID, 0)
	if sub.Status == model.StatusRemovedFromQueue {
		logger.Info(ctx, "submission removed from queue, skipping")
		return nil
	}
	switch sub.Status {
	case model.StatusBeingGraded, model.StatusWaitingForDeferred:
		// A retried task resumes from the status the failed attempt left.
		logger.Info(ctx, "resuming submission grading", zap.String("status", string(sub.Status)))
	default:
		if _, err := o.repo.UpdateStatus(ctx, sub.ID, model.StatusBeingGraded, ""); err != nil {
			return err
		}
		sub.Status = model.StatusBeingGraded
	}

	suites, err := o.repo.ListSuites(ctx, nil, sub.ProjectID)
	if err != nil {
		o.markError(ctx, sub, err)
		return err
	}
	var deferred []model.Suite
	for i := range suites {
		if suites[i].Deferred {
			deferred = append(deferred, suites[i])
			continue
		}
		if err := o.gradeSuite(ctx, sub, &suites[i], nil); err != nil {
			o.refresh(ctx, sub)
			return err
		}
	}

	if len(deferred) > 0 {
		if sub.Status != model.StatusWaitingForDeferred {
			if err := o.advance(ctx, sub, model.StatusWaitingForDeferred); err != nil {
				return err
			}
		}
		for i := range deferred {
			if err := o.gradeSuite(ctx, sub, &deferred[i], nil); err != nil {
				o.refresh(ctx, sub)
				return err
			}
		}
	}
	return o.advance(ctx, sub, model.StatusFinishedGrading)
}

// advance refreshes the result document, then moves the status.
func (o *Orchestrator) advance(ctx context.Context, sub *model.Submission, status model.GradingStatus) error {
	o.refresh(ctx, sub)
	if _, err := o.repo.UpdateStatus(ctx, sub.ID, status, ""); err != nil {
		return err
	}
	sub.Status = status
	o.invalidate(ctx, sub)
	return nil
}

// GradeSuite grades one suite of a submission, restricted to caseFilter when
// it is not empty, and refreshes the submission's result document.
func (o *Orchestrator) GradeSuite(ctx context.Context, submissionID, suiteID int64, caseFilter []int64) error {
	sub, err := o.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return err
	}
	if sub.Status == model.StatusRemovedFromQueue || sub.Status == model.StatusRejected {
		logger.Info(logger.WithGrading(ctx, submissionID, suiteID), "submission no longer gradable, skipping", zap.String("status", string(sub.Status)))
		return nil
	}
	suite, err := o.repo.GetSuite(ctx, nil, suiteID)
	if err != nil {
		if appErr.Is(err, appErr.SuiteNotFound) {
			logger.Info(logger.WithGrading(ctx, submissionID, suiteID), "suite deleted, skipping")
			return nil
		}
		return err
	}
	err = o.gradeSuite(ctx, sub, suite, caseFilter)
	o.refresh(ctx, sub)
	return err
}

// RerunSubmission re-grades the given suites (all when empty), limited to
// caseIDs when given. The submission status is left alone.
func (o *Orchestrator) RerunSubmission(ctx context.Context, submissionID int64, suiteIDs, caseIDs []int64) error {
	sub, err := o.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return err
	}
	suites, err := o.repo.ListSuites(ctx, nil, sub.ProjectID)
	if err != nil {
		return err
	}
	wantSuites := mapset.NewSet[int64](suiteIDs...)
	wantCases := mapset.NewSet[int64](caseIDs...)
	for i := range suites {
		if wantSuites.Cardinality() > 0 && !wantSuites.Contains(suites[i].ID) {
			continue
		}
		var filter []int64
		if wantCases.Cardinality() > 0 {
			for _, c := range suites[i].Cases {
				if wantCases.Contains(c.ID) {
					filter = append(filter, c.ID)
				}
			}
			if len(filter) == 0 {
				continue
			}
		}
		if err := o.gradeSuite(ctx, sub, &suites[i], filter); err != nil {
			o.refresh(ctx, sub)
			return err
		}
	}
	o.refresh(ctx, sub)
	return nil
}

// MoveCase reparents a case within its project and refreshes every affected
// submission.
func (o *Orchestrator) MoveCase(ctx context.Context, caseID, newSuiteID int64) error {
	submissions, err := o.repo.MoveCase(ctx, caseID, newSuiteID)
	if err != nil {
		return err
	}
	suite, err := o.repo.GetSuite(ctx, nil, newSuiteID)
	if err != nil {
		return err
	}
	for _, id := range submissions {
		if err := o.recoverable.Do(ctx, func(ctx context.Context) error {
			_, err := o.repo.UpdateDenormalizedResults(ctx, id)
			return err
		}); err != nil {
			logger.Warn(ctx, "refresh results after case move failed", zap.Int64("submission_id", id), zap.Error(err))
		}
	}
	if o.cache != nil {
		if err := o.cache.InvalidateProject(ctx, suite.ProjectID); err != nil {
			logger.Warn(ctx, "invalidate project results failed", zap.Int64("project_id", suite.ProjectID), zap.Error(err))
		}
	}
	return nil
}

// RemoveFromQueue withdraws a submission that has not started grading.
func (o *Orchestrator) RemoveFromQueue(ctx context.Context, submissionID int64) error {
	_, err := o.repo.UpdateStatus(ctx, submissionID, model.StatusRemovedFromQueue, "")
	return err
}

// refresh rebuilds the denormalized results and drops the cached feedback.
// Failures are logged; the reconciliation can be triggered again.
func (o *Orchestrator) refresh(ctx context.Context, sub *model.Submission) {
	ctx = context.WithoutCancel(ctx)
	err := o.recoverable.Do(ctx, func(ctx context.Context) error {
		_, err := o.repo.UpdateDenormalizedResults(ctx, sub.ID)
		return err
	})
	if err != nil {
		logger.Error(ctx, "update denormalized results failed", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
	o.invalidate(ctx, sub)
}

func (o *Orchestrator) invalidate(ctx context.Context, sub *model.Submission) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Invalidate(ctx, sub.ProjectID, sub.ID); err != nil {
		logger.Warn(ctx, "invalidate cached results failed", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
}

// markError records err on the submission. A submission that already left
// the grading states keeps its status. While the task will be retried the
// status is left alone so the next attempt can still grade.
func (o *Orchestrator) markError(ctx context.Context, sub *model.Submission, cause error) {
	if !retry.FinalAttempt(ctx) {
		logger.Warn(ctx, "grading attempt failed, task will be retried", zap.Int64("submission_id", sub.ID), zap.Error(cause))
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := o.repo.UpdateStatus(ctx, sub.ID, model.StatusError, cause.Error()); err != nil {
		logger.Error(ctx, "mark submission as error failed", zap.Int64("submission_id", sub.ID), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	sub.Status = model.StatusError
	logger.Error(ctx, "submission grading failed", zap.Int64("submission_id", sub.ID), zap.Error(cause))
}

func (o *Orchestrator) reject(ctx context.Context, sub *model.Submission, suite *model.Suite) error {
	msg := "setup for suite " + suite.Name + " failed"
	if _, err := o.repo.UpdateStatus(ctx, sub.ID, model.StatusRejected, msg); err != nil {
		logger.Warn(ctx, "mark submission as rejected failed", zap.Error(err))
	} else {
		sub.Status = model.StatusRejected
	}
	logger.Info(ctx, "submission rejected", zap.String("suite", suite.Name))
	return appErr.Newf(appErr.SubmissionRejected, "submission %d rejected: %s", sub.ID, msg)
}
