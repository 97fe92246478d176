package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for the HTTP surface and for metrics labels
type ErrorKind string

const (
	// KindValidation - malformed input, never retried
	KindValidation ErrorKind = "validation"

	// KindRateLimited - caller exceeded its window
	KindRateLimited ErrorKind = "rate_limited"

	// KindInference - the inference backend failed or returned nothing usable
	KindInference ErrorKind = "inference"

	// KindStorage - transcript store or rate-limit store failure
	KindStorage ErrorKind = "storage"

	// KindPipelineStep - a summarization step failed; never surfaced to users
	KindPipelineStep ErrorKind = "pipeline_step"

	// KindNotFound - unknown conversation
	KindNotFound ErrorKind = "not_found"
)

var (
	// ErrEmptyCompletion is returned when the model produced only whitespace
	ErrEmptyCompletion = errors.New("inference returned an empty completion")

	// ErrPipelineQueueFull is returned by Enqueue when the worker queue has no room
	ErrPipelineQueueFull = errors.New("summarization queue is full")

	// ErrRateLimitStore wraps every failure of the rate-limit backing store
	ErrRateLimitStore = errors.New("rate limit store unavailable")

	// ErrConversationNotFound is returned for lookups of unknown conversation ids
	ErrConversationNotFound = errors.New("conversation not found")
)

// ServiceError carries an ErrorKind alongside the user-facing message
type ServiceError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter int   // Seconds, only for KindRateLimited
	Cause      error // Original error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewValidationError builds a KindValidation error
func NewValidationError(format string, args ...interface{}) *ServiceError {
	return &ServiceError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewInferenceError wraps a backend failure
func NewInferenceError(message string, cause error) *ServiceError {
	return &ServiceError{Kind: KindInference, Message: message, Cause: cause}
}

// StorageError wraps a failed transcript store operation
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("transcript store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// PipelineStepError records which summarization step failed
type PipelineStepError struct {
	Step string
	Err  error
}

func (e *PipelineStepError) Error() string {
	return fmt.Sprintf("pipeline step %s failed: %v", e.Step, e.Err)
}

func (e *PipelineStepError) Unwrap() error {
	return e.Err
}

// KindOf classifies any error returned by this package.
// Unclassified errors are reported as storage failures.
func KindOf(err error) ErrorKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}

	var stepErr *PipelineStepError
	switch {
	case errors.As(err, &stepErr):
		return KindPipelineStep
	case errors.Is(err, ErrEmptyCompletion):
		return KindInference
	case errors.Is(err, ErrConversationNotFound):
		return KindNotFound
	default:
		return KindStorage
	}
}
