// Package jobs tracks compression jobs in memory together with their working directories.
package jobs

import "errors"

var (
	// ErrJobNotFound is returned for ids the store does not know, including evicted jobs.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when an update would move a job backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
