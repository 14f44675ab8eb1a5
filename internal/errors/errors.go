package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Ferry error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrProgressUninitialized ErrorCode = "PROGRESS_UNINITIALIZED" // 409
	ErrDownloadCanceled      ErrorCode = "DOWNLOAD_CANCELED"      // 499
	ErrInternal              ErrorCode = "INTERNAL"               // 500
	ErrDownloadFailed        ErrorCode = "DOWNLOAD_FAILED"        // 502
	ErrCapacityExceeded      ErrorCode = "CAPACITY_EXCEEDED"      // 507
)

// FerryError represents a structured error with code, status, and details.
type FerryError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying error, if any. Not exposed to callers of
	// the presentation surfaces.
	cause error
}

// Error implements the error interface.
func (e *FerryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *FerryError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *FerryError {
	return &FerryError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a content entry cannot be found.
func NewNotFound(kind, identifier string) *FerryError {
	return &FerryError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewProgressUninitialized creates a 409 error for progress writes against an
// entry whose progress record was never set.
func NewProgressUninitialized(id string) *FerryError {
	return &FerryError{
		Code:    ErrProgressUninitialized,
		Status:  409,
		Message: fmt.Sprintf("content %s has no progress record", id),
		Details: map[string]any{"content_id": id},
	}
}

// NewDownloadCanceled creates a 499 error when the caller abandoned a download.
func NewDownloadCanceled(id string, cause error) *FerryError {
	return &FerryError{
		Code:    ErrDownloadCanceled,
		Status:  499,
		Message: fmt.Sprintf("download of %s canceled", id),
		Details: map[string]any{"content_id": id},
		cause:   cause,
	}
}

// NewDownloadFailed creates a 502 error when the remote fetch fails.
func NewDownloadFailed(id string, cause error) *FerryError {
	msg := fmt.Sprintf("download of %s failed", id)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &FerryError{
		Code:    ErrDownloadFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"content_id": id},
		cause:   cause,
	}
}

// NewCapacityExceeded creates a 507 error when a download would exceed the storage budget.
func NewCapacityExceeded(id string, used, incoming, limit int64) *FerryError {
	return &FerryError{
		Code:    ErrCapacityExceeded,
		Status:  507,
		Message: fmt.Sprintf("storing %s needs %d bytes; %d of %d bytes in use", id, incoming, used, limit),
		Details: map[string]any{
			"content_id":     id,
			"used_bytes":     used,
			"incoming_bytes": incoming,
			"limit_bytes":    limit,
		},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *FerryError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &FerryError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a FerryError with the given code.
func Is(err error, code ErrorCode) bool {
	var fErr *FerryError
	if stderrors.As(err, &fErr) {
		return fErr.Code == code
	}
	return false
}

// As returns the FerryError in err's chain, if any.
func As(err error) (*FerryError, bool) {
	var fErr *FerryError
	if stderrors.As(err, &fErr) {
		return fErr, true
	}
	return nil, false
}
