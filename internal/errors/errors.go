// Package errors provides structured error types for the factoryml system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryModel      ErrorCategory = "MODEL"
	ErrCategoryInference  ErrorCategory = "INFERENCE"
	ErrCategoryTraining   ErrorCategory = "TRAINING"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidSchema = "INVALID_SCHEMA"
	CodeNoData        = "NO_DATA"
	CodeShapeMismatch = "SHAPE_MISMATCH"
	CodeUnknownColumn = "UNKNOWN_COLUMN"

	// Model lifecycle codes
	CodeModelLoadFailed = "MODEL_LOAD_FAILED"
	CodeModelNotFound   = "MODEL_NOT_FOUND"
	CodeArchiveFailed   = "ARCHIVE_FAILED"
	CodeSwitchRejected  = "SWITCH_REJECTED"
	CodeRegistryFailed  = "REGISTRY_FAILED"

	// Inference codes
	CodeNoCandidate     = "NO_CANDIDATE"
	CodeEngineClosed    = "ENGINE_CLOSED"
	CodePredictFailed   = "PREDICT_FAILED"
	CodeSessionConflict = "SESSION_CONFLICT"

	// Training codes
	CodeProcessFailed   = "PROCESS_FAILED"
	CodeProcessCanceled = "PROCESS_CANCELED"
	CodeJobNotFound     = "JOB_NOT_FOUND"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MLError is the structured error type used throughout the system.
type MLError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MLError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MLError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MLError) Is(target error) bool {
	var t *MLError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MLError.
func New(category ErrorCategory, code, message string) *MLError {
	return &MLError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MLError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MLError {
	return &MLError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MLError) WithDetails(details map[string]interface{}) *MLError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MLError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an MLError.
func GetCategory(err error) ErrorCategory {
	var me *MLError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an MLError.
func GetCode(err error) string {
	var me *MLError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// isRetryable determines if an error code is retryable.
// Data-quality and caller-contract violations never are; transient
// storage and process failures may be retried by the caller.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryTraining && code == CodeProcessFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewShapeError(message string) *MLError {
	return New(ErrCategoryValidation, CodeShapeMismatch, message)
}

func NewUnknownColumnError(column string) *MLError {
	return New(ErrCategoryValidation, CodeUnknownColumn,
		fmt.Sprintf("unknown column %q", column))
}

func NewNoCandidateError() *MLError {
	return New(ErrCategoryInference, CodeNoCandidate,
		"candidate model requested but none is loaded")
}

func NewModelLoadError(path string, cause error) *MLError {
	return Wrap(ErrCategoryModel, CodeModelLoadFailed,
		fmt.Sprintf("failed to load model %s", path), cause)
}

func NewArchiveError(message string, cause error) *MLError {
	return Wrap(ErrCategoryModel, CodeArchiveFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *MLError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewTrainingError(code, message string, cause error) *MLError {
	return Wrap(ErrCategoryTraining, code, message, cause)
}

func NewInternalError(message string, cause error) *MLError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
