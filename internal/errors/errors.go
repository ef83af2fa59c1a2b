// Package errors provides error code definitions shared across the client core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers and logs.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Store errors
	ErrStoreDisabled   ErrorCode = "STORE_DISABLED"
	ErrStoreClosed     ErrorCode = "STORE_CLOSED"
	ErrSnapshotCorrupt ErrorCode = "SNAPSHOT_CORRUPT"
	ErrPersistFailed   ErrorCode = "PERSIST_FAILED"
	ErrMigration       ErrorCode = "MIGRATION_FAILED"

	// Queue errors
	ErrQueueInvalidOp ErrorCode = "QUEUE_INVALID_OPERATION"
	ErrQueuePayload   ErrorCode = "QUEUE_INVALID_PAYLOAD"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrReloadFailed   ErrorCode = "RELOAD_FAILED"

	// Remote errors
	ErrRemoteRejected    ErrorCode = "REMOTE_REJECTED"
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"

	// Config errors
	ErrConfig ErrorCode = "CONFIG_INVALID"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
