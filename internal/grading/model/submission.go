package model

import (
	"path/filepath"
	"strings"
	"time"
)

// GradingStatus is the lifecycle state of a submission.
type GradingStatus string

const (
	StatusReceived           GradingStatus = "received"
	StatusQueued             GradingStatus = "queued"
	StatusBeingGraded        GradingStatus = "being_graded"
	StatusWaitingForDeferred GradingStatus = "waiting_for_deferred"
	StatusFinishedGrading    GradingStatus = "finished_grading"
	StatusRemovedFromQueue   GradingStatus = "removed_from_queue"
	StatusError              GradingStatus = "error"
	StatusRejected           GradingStatus = "rejected"
)

var transitions = map[GradingStatus][]GradingStatus{
	StatusReceived:           {StatusQueued, StatusBeingGraded, StatusRemovedFromQueue, StatusError},
	StatusQueued:             {StatusBeingGraded, StatusRemovedFromQueue, StatusError},
	StatusBeingGraded:        {StatusWaitingForDeferred, StatusFinishedGrading, StatusError, StatusRejected},
	StatusWaitingForDeferred: {StatusFinishedGrading, StatusError},
	// Re-running tests on a graded submission re-enters grading.
	StatusFinishedGrading: {StatusBeingGraded},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to GradingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s GradingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// DoneGrading reports whether all non-deferred suites have results.
func (s GradingStatus) DoneGrading() bool {
	return s == StatusWaitingForDeferred || s == StatusFinishedGrading
}

// Submission is the slice of a submission record the grader needs.
type Submission struct {
	ID                 int64         `json:"id"`
	ProjectID          int64         `json:"project_id"`
	GroupID            int64         `json:"group_id"`
	Status             GradingStatus `json:"status"`
	Usernames          []string      `json:"usernames"`
	SubmittedFilenames []string      `json:"submitted_filenames"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// UsernamesEnv is the value of the sandbox "usernames" variable.
func (s *Submission) UsernamesEnv() string {
	return strings.Join(s.Usernames, " ")
}

// MatchFiles returns the submitted files matching any of the shell patterns.
func (s *Submission) MatchFiles(patterns []string) []string {
	var matched []string
	for _, name := range s.SubmittedFilenames {
		for _, pattern := range patterns {
			if ok, err := filepath.Match(pattern, name); err == nil && ok {
				matched = append(matched, name)
				break
			}
		}
	}
	return matched
}
