// Package server provides the HTTP API for PDF compression and image conversion.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/pdfsqueeze/internal/types"
)

// APIError is an error with a stable code and the HTTP status it is reported with.
type APIError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

func errInvalidFileType(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: types.CodeInvalidFileType, Message: message}
}

func errFileTooLarge(maxMB int) *APIError {
	return &APIError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    types.CodeFileTooLarge,
		Message: fmt.Sprintf("File exceeds maximum size of %d MB", maxMB),
	}
}

func errInvalidParameters(message string, cause error) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: types.CodeInvalidParameters, Message: message, Cause: cause}
}

func errJobNotFound(id string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: types.CodeJobNotFound, Message: "Job not found: " + id}
}

func errInternal(message string, cause error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: types.CodeInternalError, Message: message, Cause: cause}
}

// HTTPStatus returns the HTTP status code for an error.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the stable code for an error.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return types.CodeInternalError
}
