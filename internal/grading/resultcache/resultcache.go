// Package resultcache stores serialized normal-category feedback per
// submission until the submission's results change.
package resultcache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autograde/internal/common/cache"
	"autograde/internal/grading/feedback"
	"autograde/internal/grading/model"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

// Cache wraps a key-value cache with the result key scheme.
type Cache struct {
	cache cache.Cache
}

func New(c cache.Cache) *Cache {
	return &Cache{cache: c}
}

// Key is the cache key of a submission's normal feedback.
func Key(projectID, submissionID int64) string {
	return fmt.Sprintf("%s%d", projectPrefix(projectID), submissionID)
}

func projectPrefix(projectID int64) string {
	return fmt.Sprintf("project_%d_submission_normal_results_", projectID)
}

// Cacheable reports whether feedback for category on a submission in status
// may be served from the cache. Only the normal category of a submission
// whose non-deferred suites are done is cached.
func Cacheable(category feedback.Category, status model.GradingStatus) bool {
	return category == feedback.Normal && status.DoneGrading()
}

// Get returns the cached document for sub, or computes and stores it with no
// expiry. Cache failures fall back to computing.
func (c *Cache) Get(ctx context.Context, sub *model.Submission, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	key := Key(sub.ProjectID, sub.ID)
	data, hit, err := cache.GetWithCached(ctx, c.cache, key, 0,
		func(b []byte) string { return string(b) },
		func(s string) ([]byte, error) { return []byte(s), nil },
		compute,
	)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "submission feedback served", zap.String("key", key), zap.Bool("cache_hit", hit))
	return data, nil
}

// Invalidate drops one submission's document.
func (c *Cache) Invalidate(ctx context.Context, projectID, submissionID int64) error {
	if err := c.cache.Del(ctx, Key(projectID, submissionID)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "invalidate results of submission %d failed", submissionID)
	}
	return nil
}

// InvalidateProject drops every document of a project.
func (c *Cache) InvalidateProject(ctx context.Context, projectID int64) error {
	n, err := c.cache.DeleteByPrefix(ctx, projectPrefix(projectID))
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "invalidate results of project %d failed", projectID)
	}
	logger.Debug(ctx, "project results invalidated", zap.Int64("project_id", projectID), zap.Int64("deleted", n))
	return nil
}
