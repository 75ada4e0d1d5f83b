package model

import "time"

const (
	EventBuildSucceeded = "algorithm.built"
	EventBuildFailed    = "algorithm.build_failed"
	EventRemoved        = "algorithm.removed"
)

// LifecycleEvent is published after a submission changes state.
type LifecycleEvent struct {
	EventType    string    `json:"event_type"`
	SubmissionID int64     `json:"submission_id,string"`
	Name         string    `json:"name"`
	UserID       string    `json:"user_id"`
	Language     string    `json:"language"`
	Status       int       `json:"status"`
	ArtifactKey  string    `json:"artifact_key,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
