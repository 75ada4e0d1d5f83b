package model

import (
	"time"

	appErr "algohub/pkg/errors"
)

// Lifecycle phases stored on a StatusRecord.
const (
	PhaseBuilding = "building"
	PhaseBuilt    = "built"
	PhaseFailed   = "failed"
)

// StatusRecord is the persisted build state of a submission.
type StatusRecord struct {
	ID        int64            `json:"id,string"`
	Phase     string           `json:"phase"`
	Code      appErr.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// BuildResult is the outcome of one compile step. It is not persisted.
type BuildResult struct {
	Status     appErr.ErrorCode `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Stdout     string           `json:"stdout"`
	Stderr     string           `json:"stderr"`
	DurationMs int64            `json:"duration_ms"`
	TimedOut   bool             `json:"timed_out,omitempty"`
}

// OK reports a successful build.
func (r BuildResult) OK() bool {
	return r.Status == appErr.Success
}

// RunResult is the outcome of executing a built artifact.
type RunResult struct {
	Status     appErr.ErrorCode `json:"status"`
	ExitCode   int              `json:"exit_code"`
	Stdout     string           `json:"stdout"`
	Stderr     string           `json:"stderr"`
	DurationMs int64            `json:"duration_ms"`
	TimedOut   bool             `json:"timed_out,omitempty"`
	Truncated  bool             `json:"truncated,omitempty"`
}
