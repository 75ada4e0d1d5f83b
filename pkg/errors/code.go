package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Algorithm build & run errors
//
// Codes are part of the wire contract. Never renumber an existing code.

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Algorithm Module Errors (13000-13999) ==========

	// Submission records (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	LanguageNotFound     ErrorCode = 13003
	AmbiguousMatch       ErrorCode = 13006
	SubmissionNameTaken  ErrorCode = 13007
	RollbackFailed       ErrorCode = 13008
	WorkspaceUnavailable ErrorCode = 13009
	ReleaseFailed        ErrorCode = 13010
	TestDataNotFound     ErrorCode = 13011

	// Build & run (13100-13199)
	EnvironmentError   ErrorCode = 13101
	BuildFailed        ErrorCode = 13102
	ExecutableNotFound ErrorCode = 13110
	RunTimeout         ErrorCode = 13111
	BuildQueueFull     ErrorCode = 13112
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
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Submission records
	SubmissionNotFound:   "Submission not found",
	LanguageNotFound:     "Programming language not found",
	AmbiguousMatch:       "Search matched more than one submission",
	SubmissionNameTaken:  "Submission name already exists",
	RollbackFailed:       "Failed to roll back submission after build failure",
	WorkspaceUnavailable: "Workspace cannot be created",
	ReleaseFailed:        "Failed to release submission resources",
	TestDataNotFound:     "Test data not found",

	// Build & run
	EnvironmentError:   "Build environment error",
	BuildFailed:        "Build failed",
	ExecutableNotFound: "Executable not found",
	RunTimeout:         "Execution timed out",
	BuildQueueFull:     "Build queue is full, please try again later",
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
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == AmbiguousMatch, c == TestDataNotFound, c == RecordNotFound:
		return 404
	case c == SubmissionNameTaken, c == RecordAlreadyExists:
		return 409
	case c == LanguageNotFound, c == BuildFailed:
		return 422
	case c == TooManyRequests, c == BuildQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout, c == RunTimeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}

// IsNotFoundClass reports whether the code belongs to the lookup failure family.
func (c ErrorCode) IsNotFoundClass() bool {
	switch c {
	case NotFound, SubmissionNotFound, AmbiguousMatch, RecordNotFound:
		return true
	}
	return false
}
