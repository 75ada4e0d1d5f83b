package controller

import appErr "algohub/pkg/errors"

// CreateAlgorithmRequest defines the submission creation payload.
type CreateAlgorithmRequest struct {
	Name         string           `json:"name" binding:"required"`
	Description  string           `json:"description"`
	UserID       string           `json:"user_id"`
	Language     string           `json:"language" binding:"required"`
	SourceCode   string           `json:"source_code" binding:"required"`
	BuildOptions string           `json:"build_options"`
	Price        int64            `json:"price"`
	Tags         []string         `json:"tags"`
	TestDataID   int64            `json:"test_data_id,string,omitempty"`
	TestData     *TestDataPayload `json:"test_data"`
}

// UpdateAlgorithmRequest defines the update payload. Absent fields are kept.
type UpdateAlgorithmRequest struct {
	Description  *string          `json:"description"`
	Language     *string          `json:"language"`
	SourceCode   *string          `json:"source_code"`
	BuildOptions *string          `json:"build_options"`
	Price        *int64           `json:"price"`
	Tags         *[]string        `json:"tags"`
	TestData     *TestDataPayload `json:"test_data"`
}

type TestDataPayload struct {
	RunOptions string `json:"run_options"`
	Input      string `json:"input"`
}

// BuildResponse carries compiler diagnostics for successful and failed builds alike.
type BuildResponse struct {
	Status     appErr.ErrorCode `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Stdout     string           `json:"stdout"`
	Stderr     string           `json:"stderr"`
	DurationMs int64            `json:"duration_ms"`
	TimedOut   bool             `json:"timed_out,omitempty"`
}

type StatusResponse struct {
	Phase     string           `json:"phase"`
	Code      appErr.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	UpdatedAt string           `json:"updated_at"`
}

// SubmissionView is the public shape of a submission.
type SubmissionView struct {
	ID           int64    `json:"id,string"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	UserID       string   `json:"user_id"`
	Language     string   `json:"language"`
	SourceCode   string   `json:"source_code"`
	BuildOptions string   `json:"build_options"`
	TestDataID   int64    `json:"test_data_id,string"`
	Price        int64    `json:"price"`
	Tags         []string `json:"tags"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}
