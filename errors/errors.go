package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = fmt.Errorf("invalid transfer input")
	ErrCancelled      = fmt.Errorf("transfer cancelled")
	ErrFileRefMissing = fmt.Errorf("file reference not attached")
	ErrEntryNotFound  = fmt.Errorf("entry not found")
	ErrWorkerPanic    = fmt.Errorf("worker panic")
)

// NetworkError marks a connection-level failure (DNS, reset, timeout).
// Always retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError carries a non-2xx status from the remote endpoint.
// Retryable only for 5xx; a 4xx means the request itself is wrong.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d", e.Status)
}

// StorageError wraps a persistence write failure. It never affects entry
// state; callers log it and keep the in-memory queue authoritative.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a transport failure is worth another attempt.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status >= 500
	}
	return false
}
