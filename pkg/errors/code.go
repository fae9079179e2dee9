package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors (ops API)
// 12000-12999: Grading pipeline errors
// 13000-13999: Sandbox errors
// 14000-14999: Feedback errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103
	IntegrityViolation  ErrorCode = 10104

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Storage errors (10250-10299)
	StorageError   ErrorCode = 10250
	OutputNotFound ErrorCode = 10251

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Grading Errors (12000-12999) ==========

	// Static objects (12000-12099)
	ProjectNotFound ErrorCode = 12000
	SuiteNotFound   ErrorCode = 12001
	CaseNotFound    ErrorCode = 12002
	CommandNotFound ErrorCode = 12003
	CaseMoveInvalid ErrorCode = 12004

	// Submission (12100-12199)
	SubmissionNotFound      ErrorCode = 12100
	SubmissionRejected      ErrorCode = 12101
	InvalidStatusTransition ErrorCode = 12102
	SubmissionNotGraded     ErrorCode = 12103

	// Pipeline (12200-12299)
	GradingFailed   ErrorCode = 12200
	GradingSkipped  ErrorCode = 12201
	QueuePublishErr ErrorCode = 12202

	// ========== Sandbox Errors (13000-13999) ==========

	SandboxError          ErrorCode = 13000
	SandboxCreateFailed   ErrorCode = 13001
	SandboxExecFailed     ErrorCode = 13002
	SandboxTeardownFailed ErrorCode = 13003
	InvalidCommand        ErrorCode = 13004

	// ========== Feedback Errors (14000-14999) ==========

	FeedbackConfigInvalid   ErrorCode = 14000
	InvalidFeedbackCategory ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",
	IntegrityViolation:  "Database integrity constraint violated",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Storage
	StorageError:   "Storage operation failed",
	OutputNotFound: "Output not found",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Static objects
	ProjectNotFound: "Project not found",
	SuiteNotFound:   "Test suite not found",
	CaseNotFound:    "Test case not found",
	CommandNotFound: "Test command not found",
	CaseMoveInvalid: "Test case cannot be moved to that suite",

	// Submission
	SubmissionNotFound:      "Submission not found",
	SubmissionRejected:      "Submission rejected",
	InvalidStatusTransition: "Invalid submission status transition",
	SubmissionNotGraded:     "Submission has not finished grading",

	// Pipeline
	GradingFailed:   "Grading failed",
	GradingSkipped:  "Grading unit skipped",
	QueuePublishErr: "Failed to publish grading job",

	// Sandbox
	SandboxError:          "Sandbox error",
	SandboxCreateFailed:   "Failed to create sandbox",
	SandboxExecFailed:     "Failed to run command in sandbox",
	SandboxTeardownFailed: "Sandbox teardown failed",
	InvalidCommand:        "Invalid command",

	// Feedback
	FeedbackConfigInvalid:   "Invalid feedback configuration",
	InvalidFeedbackCategory: "Invalid feedback category",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == OutputNotFound,
		c >= 12000 && c < 12004, c == SubmissionNotFound:
		return 404
	case c == InvalidStatusTransition, c == SubmissionNotGraded:
		return 409
	// A rejected submission is a policy outcome, reported to the submitter as a client error.
	case c == SubmissionRejected:
		return 400
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400, c >= 14000 && c < 15000:
		return 400
	case c == InvalidParams, c == CaseMoveInvalid, c == InvalidCommand:
		return 400
	default:
		return 500
	}
}
