package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"autograde/internal/common/db"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
	"autograde/internal/grading/projection"
	"autograde/internal/grading/resultcache"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

// FeedbackRepository is the read side the feedback service needs.
type FeedbackRepository interface {
	GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error)
	ListSuites(ctx context.Context, tx db.Transaction, projectID int64) ([]model.Suite, error)
	LoadResultTree(ctx context.Context, submissionID int64) (model.ResultTree, error)
}

// FeedbackService renders projected submission feedback.
type FeedbackService struct {
	repo     FeedbackRepository
	cache    *resultcache.Cache
	outputs  projection.OutputReader
	expected projection.ExpectedReader
}

// FeedbackConfig holds feedback service dependencies.
type FeedbackConfig struct {
	Repository FeedbackRepository
	Outputs    projection.OutputReader
	Expected   projection.ExpectedReader

	// Cache is optional; without it every request is computed.
	Cache *resultcache.Cache
}

// NewFeedbackService creates a feedback service.
func NewFeedbackService(cfg FeedbackConfig) (*FeedbackService, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if cfg.Outputs == nil {
		return nil, fmt.Errorf("output reader is required")
	}
	return &FeedbackService{
		repo:     cfg.Repository,
		cache:    cfg.Cache,
		outputs:  cfg.Outputs,
		expected: cfg.Expected,
	}, nil
}

// SubmissionFeedback returns the JSON feedback document of a submission for
// category. Normal feedback of a submission that is done grading is served
// from the result cache when useCache is set.
func (s *FeedbackService) SubmissionFeedback(ctx context.Context, submissionID int64, category feedback.Category, useCache bool) ([]byte, error) {
	if !category.Valid() {
		return nil, appErr.Newf(appErr.InvalidFeedbackCategory, "unknown feedback category %q", category)
	}
	sub, err := s.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	compute := func(ctx context.Context) ([]byte, error) {
		return s.render(ctx, sub, category)
	}
	if !useCache || s.cache == nil || !resultcache.Cacheable(category, sub.Status) {
		return compute(ctx)
	}
	return s.cache.Get(ctx, sub, compute)
}

// Project returns the projected feedback of a submission with visible
// outputs loaded.
func (s *FeedbackService) Project(ctx context.Context, submissionID int64, category feedback.Category) (*projection.SubmissionFeedback, error) {
	sub, err := s.repo.GetSubmission(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, sub, category)
}

func (s *FeedbackService) project(ctx context.Context, sub *model.Submission, category feedback.Category) (*projection.SubmissionFeedback, error) {
	tree, err := s.repo.LoadResultTree(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	suites, err := s.repo.ListSuites(ctx, nil, sub.ProjectID)
	if err != nil {
		return nil, err
	}
	fb := projection.Project(tree, category, projection.Options{SubmissionID: sub.ID, Suites: suites})
	if err := fb.LoadOutputs(ctx, s.outputs, s.expected); err != nil {
		return nil, err
	}
	return fb, nil
}

func (s *FeedbackService) render(ctx context.Context, sub *model.Submission, category feedback.Category) ([]byte, error) {
	fb, err := s.project(ctx, sub, category)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(fb)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode feedback failed")
	}
	logger.Debug(ctx, "submission feedback rendered",
		zap.Int64("submission_id", sub.ID),
		zap.String("category", string(category)),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}
