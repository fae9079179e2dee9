package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "autograde/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionRejected, "Submission rejected"},
		{SandboxTeardownFailed, "Sandbox teardown failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{SubmissionRejected, 400},
		{InvalidFeedbackCategory, 400},
		{TokenExpired, 401},
		{SubmissionNotFound, 404},
		{SuiteNotFound, 404},
		{InvalidStatusTransition, 409},
		{GradingFailed, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrapf(cause, SandboxExecFailed, "exec %s", "abc")

	if err.Code != SandboxExecFailed {
		t.Fatalf("expected code %d, got %d", SandboxExecFailed, err.Code)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause")
	}
	if err.Error() != "exec abc" {
		t.Fatalf("expected message %q, got %q", "exec abc", err.Error())
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	inner := New(SubmissionRejected)
	outer := fmt.Errorf("grade suite: %w", inner)

	if got := GetCode(outer); got != SubmissionRejected {
		t.Fatalf("expected %d, got %d", SubmissionRejected, got)
	}
	if !Is(outer, SubmissionRejected) {
		t.Fatalf("expected Is to find code through fmt wrap")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatalf("expected plain errors to map to internal server error")
	}
}

func TestIsWalksNestedCodes(t *testing.T) {
	inner := New(IntegrityViolation)
	outer := Wrapf(inner, DatabaseError, "insert suite result")

	if !Is(outer, DatabaseError) {
		t.Fatalf("expected outer code to match")
	}
	if !Is(outer, IntegrityViolation) {
		t.Fatalf("expected inner code to match")
	}
	if Is(outer, SandboxError) {
		t.Fatalf("expected unrelated code not to match")
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidationError("category", "unknown value")
	if err.Details["field"] != "category" || err.Details["reason"] != "unknown value" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}
