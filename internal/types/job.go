// Package types provides type definitions for structured data used throughout the pdfsqueeze system.
package types

import "time"

// JobStatus is the lifecycle state of a compression or conversion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// rank orders the forward lifecycle. Failed sits outside the order and is reachable from any
// other state.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	return s == JobStatusFailed || s.rank() >= 0
}

// Terminal reports whether no further status changes are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the lifecycle.
// Re-asserting the current non-terminal status is allowed. A completed job may still be
// marked failed; nothing leaves failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.Valid() || s == JobStatusFailed {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Job is a unit of tracked, asynchronously pollable work.
type Job struct {
	ID           string             `json:"job_id"`
	CreatedAt    time.Time          `json:"created_at"`
	Status       JobStatus          `json:"status"`
	Progress     int                `json:"progress"`
	Message      string             `json:"message"`
	ErrorCode    string             `json:"error_code,omitempty"`
	OutputPath   string             `json:"-"`
	OriginalName string             `json:"original_filename"`
	WorkDir      string             `json:"-"`
	Result       *CompressionReport `json:"result,omitempty"`
}

// JobUpdate carries the optional fields of a job update. Nil fields are left untouched.
type JobUpdate struct {
	Status     *JobStatus
	Progress   *int
	Message    *string
	ErrorCode  *string
	OutputPath *string
	Result     *CompressionReport
}

// Ptr returns a pointer to v. It keeps JobUpdate literals short.
func Ptr[T any](v T) *T {
	return &v
}
