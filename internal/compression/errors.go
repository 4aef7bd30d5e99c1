// Package compression drives Ghostscript and searches a quality ladder for the first output
// that fits a size target.
package compression

import (
	"errors"
	"fmt"
)

// ErrNoSuccessfulAttempt is returned when every ladder entry failed to produce an output.
var ErrNoSuccessfulAttempt = errors.New("no compression attempt succeeded")

// SourceMissingError means the input document does not exist.
type SourceMissingError struct {
	Path  string
	Cause error
}

func (e *SourceMissingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("input file not found: %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("input file not found: %s", e.Path)
}

func (e *SourceMissingError) Unwrap() error {
	return e.Cause
}

// ToolMissingError means the Ghostscript executable could not be found.
// Message includes installation guidance.
type ToolMissingError struct {
	Executable string
	Message    string
	Cause      error
}

func (e *ToolMissingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ToolMissingError) Unwrap() error {
	return e.Cause
}

// AttemptError is a single failed compressor invocation.
type AttemptError struct {
	Resolution int
	Quality    int
	Message    string
	Stderr     string
	Cause      error
}

func (e *AttemptError) Error() string {
	msg := fmt.Sprintf("compression attempt failed (dpi=%d, quality=%d): %s", e.Resolution, e.Quality, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

func (e *AttemptError) Unwrap() error {
	return e.Cause
}
