package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for lookups of unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned for operations illegal in the job's current
	// state, such as cancelling a completed job or retrying past the cap.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned for state machine violations.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation is returned for bad input. Never retried.
	ErrValidation = errors.New("validation error")
)

// RenderError is a classified failure from the render collaborator. The
// worker tags the kind; the retry policy only reads it.
type RenderError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransientRenderError builds a retryable render failure (I/O timeout,
// encoder resource exhaustion).
func TransientRenderError(code, message string) *RenderError {
	return &RenderError{Kind: ErrorKindTransient, Code: code, Message: message}
}

// FatalRenderError builds a non-retryable render failure.
func FatalRenderError(code, message string) *RenderError {
	return &RenderError{Kind: ErrorKindFatal, Code: code, Message: message}
}

// KindOf extracts the error kind from err. Unclassified errors are fatal.
func KindOf(err error) ErrorKind {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ErrorKindFatal
}

// JobErrorFrom converts err into the terminal error payload stored on a job.
func JobErrorFrom(err error) *JobError {
	var re *RenderError
	if errors.As(err, &re) {
		return &JobError{Code: re.Code, Message: re.Message}
	}
	return &JobError{Code: "RENDER_FAILED", Message: err.Error()}
}
