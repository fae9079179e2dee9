package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"autograde/internal/common/mq"
	"autograde/internal/grading/retry"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

const (
	defaultSlotTimeout = 2 * time.Second
	// A failed job is retried once as a whole, then dead-lettered.
	jobMaxRetries = 1
)

// JobKind selects what a grading job does.
type JobKind string

const (
	JobGradeSubmission JobKind = "grade_submission"
	JobGradeSuite      JobKind = "grade_suite"
	JobRerun           JobKind = "rerun"
)

// Job is the queue payload of one grading task.
type Job struct {
	Kind         JobKind `json:"kind"`
	SubmissionID int64   `json:"submission_id"`
	SuiteID      int64   `json:"suite_id,omitempty"`
	SuiteIDs     []int64 `json:"suite_ids,omitempty"`
	CaseIDs      []int64 `json:"case_ids,omitempty"`
}

func (j Job) validate() error {
	if j.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	switch j.Kind {
	case JobGradeSubmission, JobRerun:
		return nil
	case JobGradeSuite:
		if j.SuiteID <= 0 {
			return appErr.ValidationError("suite_id", "required")
		}
		return nil
	default:
		return appErr.ValidationError("kind", fmt.Sprintf("unknown job kind %q", j.Kind))
	}
}

// Grader runs grading work. *orchestrator.Orchestrator implements it.
type Grader interface {
	GradeSubmission(ctx context.Context, submissionID int64) error
	GradeSuite(ctx context.Context, submissionID, suiteID int64, caseFilter []int64) error
	RerunSubmission(ctx context.Context, submissionID int64, suiteIDs, caseIDs []int64) error
	RemoveFromQueue(ctx context.Context, submissionID int64) error
	MoveCase(ctx context.Context, caseID, newSuiteID int64) error
}

// GradingService consumes grading jobs and enqueues new ones.
type GradingService struct {
	grader          Grader
	queue           mq.Producer
	topic           string
	deadLetterTopic string
	consumerGroup   string
	concurrency     int
	jobTimeout      time.Duration
	slotTimeout     time.Duration
	slots           *semaphore.Weighted
}

// GradingConfig holds grading service dependencies and settings.
type GradingConfig struct {
	Grader          Grader
	Queue           mq.Producer
	Topic           string
	DeadLetterTopic string
	ConsumerGroup   string
	WorkerPoolSize  int
	JobTimeout      time.Duration
	SlotTimeout     time.Duration
}

// NewGradingService creates a grading service.
func NewGradingService(cfg GradingConfig) (*GradingService, error) {
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	slotTimeout := cfg.SlotTimeout
	if slotTimeout <= 0 {
		slotTimeout = defaultSlotTimeout
	}
	return &GradingService{
		grader:          cfg.Grader,
		queue:           cfg.Queue,
		topic:           cfg.Topic,
		deadLetterTopic: cfg.DeadLetterTopic,
		consumerGroup:   cfg.ConsumerGroup,
		concurrency:     poolSize,
		jobTimeout:      cfg.JobTimeout,
		slotTimeout:     slotTimeout,
		slots:           semaphore.NewWeighted(int64(poolSize)),
	}, nil
}

// Topic is the job topic the service consumes.
func (s *GradingService) Topic() string {
	return s.topic
}

// SubscribeOptions are the consumer settings for the job topic.
func (s *GradingService) SubscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   s.consumerGroup,
		Concurrency:     s.concurrency,
		MaxRetries:      jobMaxRetries,
		DeadLetterTopic: s.deadLetterTopic,
	}
}

// Enqueue publishes a grading job.
func (s *GradingService) Enqueue(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode job failed")
	}
	msg := mq.NewMessage(body)
	msg.ID = strconv.FormatInt(job.SubmissionID, 10)
	msg.MaxRetries = jobMaxRetries
	msg.SetHeader("kind", string(job.Kind))
	if err := s.queue.Publish(ctx, s.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishErr, "enqueue %s for submission %d failed", job.Kind, job.SubmissionID)
	}
	logger.Info(ctx, "grading job enqueued", zap.String("kind", string(job.Kind)), zap.Int64("submission_id", job.SubmissionID))
	return nil
}

// RemoveFromQueue withdraws a queued submission. A job already in the queue
// is skipped when it is consumed.
func (s *GradingService) RemoveFromQueue(ctx context.Context, submissionID int64) error {
	return s.grader.RemoveFromQueue(ctx, submissionID)
}

// MoveCase reparents a case and refreshes the affected results.
func (s *GradingService) MoveCase(ctx context.Context, caseID, newSuiteID int64) error {
	return s.grader.MoveCase(ctx, caseID, newSuiteID)
}

// HandleMessage processes one grading job message. A returned error makes the
// queue retry the job; outcomes that a retry cannot change return nil.
func (s *GradingService) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		logger.Warn(ctx, "drop undecodable grading job", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if err := job.validate(); err != nil {
		logger.Warn(ctx, "drop invalid grading job", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = logger.WithGrading(ctx, job.SubmissionID, job.SuiteID)
	ctx = retry.WithFinalAttempt(ctx, !msg.ShouldRetry())

	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.slots.Release(1)

	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.run(ctx, job)
	if err == nil {
		logger.Info(ctx, "grading job done", zap.String("kind", string(job.Kind)), zap.Duration("elapsed", time.Since(start)))
		return nil
	}
	return s.handleFailure(ctx, job, msg, err)
}

func (s *GradingService) run(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobGradeSubmission:
		return s.grader.GradeSubmission(ctx, job.SubmissionID)
	case JobGradeSuite:
		return s.grader.GradeSuite(ctx, job.SubmissionID, job.SuiteID, job.CaseIDs)
	default:
		return s.grader.RerunSubmission(ctx, job.SubmissionID, job.SuiteIDs, job.CaseIDs)
	}
}

func (s *GradingService) handleFailure(ctx context.Context, job Job, msg *mq.Message, err error) error {
	switch appErr.GetCode(err) {
	case appErr.SubmissionRejected, appErr.SubmissionNotFound, appErr.InvalidStatusTransition, appErr.InvalidParams:
		logger.Info(ctx, "grading job finished without retry", zap.String("kind", string(job.Kind)), zap.Error(err))
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	logger.Error(ctx, "grading job failed",
		zap.String("kind", string(job.Kind)),
		zap.String("message_id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err),
	)
	return err
}

func (s *GradingService) acquireSlot(ctx context.Context) error {
	ctxSlot, cancel := context.WithTimeout(ctx, s.slotTimeout)
	defer cancel()
	if err := s.slots.Acquire(ctxSlot, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErr.New(appErr.ServiceUnavailable).WithMessage("worker pool is full")
	}
	return nil
}
