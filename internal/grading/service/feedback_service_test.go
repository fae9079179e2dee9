package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"autograde/internal/common/cache"
	"autograde/internal/common/db"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
	"autograde/internal/grading/resultcache"
	appErr "autograde/pkg/errors"
)

type fakeFeedbackRepo struct {
	sub    model.Submission
	suites []model.Suite
	tree   model.ResultTree
}

func (r *fakeFeedbackRepo) GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	if submissionID != r.sub.ID {
		return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", submissionID)
	}
	sub := r.sub
	return &sub, nil
}

func (r *fakeFeedbackRepo) ListSuites(ctx context.Context, tx db.Transaction, projectID int64) ([]model.Suite, error) {
	return r.suites, nil
}

func (r *fakeFeedbackRepo) LoadResultTree(ctx context.Context, submissionID int64) (model.ResultTree, error) {
	return r.tree, nil
}

type countingOutputs struct {
	mu    sync.Mutex
	data  map[string]string
	opens int
}

func (o *countingOutputs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	s, ok := o.data[key]
	if !ok {
		return nil, appErr.Newf(appErr.OutputNotFound, "output %s not found", key)
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func (o *countingOutputs) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func feedbackFixture(status model.GradingStatus) *fakeFeedbackRepo {
	ok := true
	code := 0
	cmdFeedback := feedback.DefaultCommandFeedbackConfigs()
	cmdFeedback.Normal = feedback.MaxCommandConfig()
	return &fakeFeedbackRepo{
		sub: model.Submission{ID: 5, ProjectID: 2, Status: status},
		suites: []model.Suite{{
			ID:       1,
			Name:     "suite",
			Feedback: feedback.DefaultSuiteFeedbackConfigs(),
			Cases: []model.Case{{
				ID:       10,
				Name:     "case",
				Feedback: feedback.DefaultCaseFeedbackConfigs(),
				Commands: []model.Command{{
					ID:                     100,
					Name:                   "cmd",
					ExpectedStdout:         model.OutputExpectation{Source: model.ExpectedOutputText, Text: "hi\n"},
					PointsForCorrectStdout: 4,
					Feedback:               cmdFeedback,
				}},
			}},
		}},
		tree: model.ResultTree{
			model.SuiteKey(1): {
				ID: 50, SuiteID: 1,
				CaseResults: []model.CaseResult{{ID: 60, CaseID: 10, CommandResults: []model.CommandResult{{
					ID: 70, CommandID: 100, ReturnCode: &code, StdoutCorrect: &ok,
				}}}},
			},
		},
	}
}

func newFeedbackService(t *testing.T, repo *fakeFeedbackRepo, outs *countingOutputs) (*FeedbackService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	svc, err := NewFeedbackService(FeedbackConfig{
		Repository: repo,
		Outputs:    outs,
		Cache:      resultcache.New(c),
	})
	if err != nil {
		t.Fatalf("new feedback service: %v", err)
	}
	return svc, mr
}

func TestCachedFeedbackIsNotRecomputed(t *testing.T) {
	repo := feedbackFixture(model.StatusFinishedGrading)
	outs := &countingOutputs{data: map[string]string{
		model.CommandOutputKey(5, 70, model.Stdout): "hi\n",
	}}
	svc, mr := newFeedbackService(t, repo, outs)
	ctx := context.Background()

	first, err := svc.SubmissionFeedback(ctx, 5, feedback.Normal, true)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	reads := outs.count()
	if reads == 0 {
		t.Fatalf("expected visible outputs to be read")
	}
	second, err := svc.SubmissionFeedback(ctx, 5, feedback.Normal, true)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical documents")
	}
	if outs.count() != reads {
		t.Fatalf("expected no reads or diffs on a cache hit, got %d more", outs.count()-reads)
	}
	if !mr.Exists(resultcache.Key(2, 5)) {
		t.Fatalf("expected document cached under the submission key")
	}

	var doc map[string]any
	if err := json.Unmarshal(first, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["total_points"] != float64(4) {
		t.Fatalf("expected 4 points, got %v", doc["total_points"])
	}
}

func TestFeedbackBypassesCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   model.GradingStatus
		category feedback.Category
		useCache bool
	}{
		{name: "still grading", status: model.StatusBeingGraded, category: feedback.Normal, useCache: true},
		{name: "staff", status: model.StatusFinishedGrading, category: feedback.StaffViewer, useCache: true},
		{name: "cache off", status: model.StatusFinishedGrading, category: feedback.Normal, useCache: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := feedbackFixture(tt.status)
			outs := &countingOutputs{data: map[string]string{}}
			svc, mr := newFeedbackService(t, repo, outs)
			if _, err := svc.SubmissionFeedback(context.Background(), 5, tt.category, tt.useCache); err != nil {
				t.Fatalf("feedback: %v", err)
			}
			reads := outs.count()
			if _, err := svc.SubmissionFeedback(context.Background(), 5, tt.category, tt.useCache); err != nil {
				t.Fatalf("feedback: %v", err)
			}
			if outs.count() != 2*reads {
				t.Fatalf("expected recomputation, got %d then %d reads", reads, outs.count())
			}
			if mr.Exists(resultcache.Key(2, 5)) {
				t.Fatalf("expected nothing cached")
			}
		})
	}
}

func TestFeedbackRejectsUnknownCategory(t *testing.T) {
	svc, _ := newFeedbackService(t, feedbackFixture(model.StatusFinishedGrading), &countingOutputs{})
	_, err := svc.SubmissionFeedback(context.Background(), 5, feedback.Category("bogus"), true)
	if !appErr.Is(err, appErr.InvalidFeedbackCategory) {
		t.Fatalf("expected invalid category, got %v", err)
	}
}

func TestFeedbackMissingSubmission(t *testing.T) {
	svc, _ := newFeedbackService(t, feedbackFixture(model.StatusFinishedGrading), &countingOutputs{})
	_, err := svc.SubmissionFeedback(context.Background(), 99, feedback.Normal, true)
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected submission not found, got %v", err)
	}
}
