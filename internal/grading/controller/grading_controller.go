package controller

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"autograde/internal/grading/feedback"
	"autograde/internal/grading/service"
	"autograde/pkg/utils/response"
)

// JobQueue is the grading side of the ops API.
type JobQueue interface {
	Enqueue(ctx context.Context, job service.Job) error
	RemoveFromQueue(ctx context.Context, submissionID int64) error
	MoveCase(ctx context.Context, caseID, newSuiteID int64) error
}

// FeedbackRenderer renders submission feedback documents.
type FeedbackRenderer interface {
	SubmissionFeedback(ctx context.Context, submissionID int64, category feedback.Category, useCache bool) ([]byte, error)
}

// GradingController handles the ops endpoints of the grader.
type GradingController struct {
	jobs     JobQueue
	feedback FeedbackRenderer
}

// NewGradingController creates a new GradingController.
func NewGradingController(jobs JobQueue, renderer FeedbackRenderer) *GradingController {
	return &GradingController{jobs: jobs, feedback: renderer}
}

// Register mounts the routes on group.
func (h *GradingController) Register(group *gin.RouterGroup) {
	group.POST("/submissions/:id/grade", h.GradeSubmission)
	group.POST("/submissions/:id/rerun", h.Rerun)
	group.POST("/submissions/:id/suites/:suite_id/grade", h.GradeSuite)
	group.POST("/submissions/:id/remove_from_queue", h.RemoveFromQueue)
	group.GET("/submissions/:id/results", h.Results)
	group.POST("/cases/:id/move", h.MoveCase)
}

// RerunRequest selects what a rerun grades. Empty lists mean everything.
type RerunRequest struct {
	SuiteIDs []int64 `json:"suite_ids"`
	CaseIDs  []int64 `json:"case_ids"`
}

// GradeSuiteRequest limits a suite grading to some cases.
type GradeSuiteRequest struct {
	CaseIDs []int64 `json:"case_ids"`
}

// MoveCaseRequest names the new parent suite.
type MoveCaseRequest struct {
	SuiteID int64 `json:"suite_id" binding:"required"`
}

// JobResponse acknowledges an enqueued job.
type JobResponse struct {
	SubmissionID int64  `json:"submission_id"`
	Kind         string `json:"kind"`
}

// GradeSubmission enqueues a full grading of a submission.
func (h *GradingController) GradeSubmission(c *gin.Context) {
	submissionID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	h.enqueue(c, service.Job{Kind: service.JobGradeSubmission, SubmissionID: submissionID})
}

// Rerun enqueues a filtered re-run of a submission.
func (h *GradingController) Rerun(c *gin.Context) {
	submissionID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var req RerunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	h.enqueue(c, service.Job{
		Kind:         service.JobRerun,
		SubmissionID: submissionID,
		SuiteIDs:     req.SuiteIDs,
		CaseIDs:      req.CaseIDs,
	})
}

// GradeSuite enqueues the grading of one suite.
func (h *GradingController) GradeSuite(c *gin.Context) {
	submissionID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	suiteID, ok := idParam(c, "suite_id")
	if !ok {
		response.BadRequest(c, "Invalid suite id")
		return
	}
	var req GradeSuiteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request parameters")
			return
		}
	}
	h.enqueue(c, service.Job{
		Kind:         service.JobGradeSuite,
		SubmissionID: submissionID,
		SuiteID:      suiteID,
		CaseIDs:      req.CaseIDs,
	})
}

// RemoveFromQueue withdraws a submission that has not started grading.
func (h *GradingController) RemoveFromQueue(c *gin.Context) {
	submissionID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.jobs.RemoveFromQueue(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": submissionID})
}

// Results returns the feedback document of a submission.
func (h *GradingController) Results(c *gin.Context) {
	submissionID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	category, err := feedback.ParseCategory(c.DefaultQuery("feedback_category", string(feedback.Normal)))
	if err != nil {
		response.Error(c, err)
		return
	}
	useCache := c.DefaultQuery("use_cache", "true") == "true"
	data, err := h.feedback.SubmissionFeedback(c.Request.Context(), submissionID, category, useCache)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, json.RawMessage(data))
}

// MoveCase reparents a case to another suite of the same project.
func (h *GradingController) MoveCase(c *gin.Context) {
	caseID, ok := idParam(c, "id")
	if !ok {
		response.BadRequest(c, "Invalid case id")
		return
	}
	var req MoveCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SuiteID <= 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if err := h.jobs.MoveCase(c.Request.Context(), caseID, req.SuiteID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"case_id": caseID, "suite_id": req.SuiteID})
}

func (h *GradingController) enqueue(c *gin.Context, job service.Job) {
	if err := h.jobs.Enqueue(c.Request.Context(), job); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, JobResponse{SubmissionID: job.SubmissionID, Kind: string(job.Kind)})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
