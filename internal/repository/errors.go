package repository

import (
	"errors"
	"fmt"
)

// StoreError is the common base of every document-store failure.
type StoreError struct {
	Op      string
	Status  int
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ConnectionError means the store could not be reached or is unavailable.
type ConnectionError struct {
	StoreError
}

// AuthError means the store rejected the credentials (HTTP 401/403).
type AuthError struct {
	StoreError
}

// IndexNotFoundError means the target index does not exist.
type IndexNotFoundError struct {
	StoreError
	Index string
}

// QueryError means the store rejected the request (HTTP 400) or answered
// with something that could not be decoded.
type QueryError struct {
	StoreError
}

func newConnectionError(op string, cause error) *ConnectionError {
	return &ConnectionError{StoreError{Op: op, Message: "cannot reach document store", Cause: cause}}
}

func newAuthError(op string, status int) *AuthError {
	return &AuthError{StoreError{Op: op, Status: status, Message: "authentication failed, check DEVLOGS_OPENSEARCH_USER/PASS"}}
}

func newIndexNotFoundError(op, index string) *IndexNotFoundError {
	return &IndexNotFoundError{
		StoreError: StoreError{Op: op, Status: 404, Message: fmt.Sprintf("index '%s' does not exist", index)},
		Index:      index,
	}
}

func newQueryError(op string, status int, reason string, cause error) *QueryError {
	return &QueryError{StoreError{Op: op, Status: status, Message: reason, Cause: cause}}
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsIndexNotFound reports whether err is (or wraps) an IndexNotFoundError.
func IsIndexNotFound(err error) bool {
	var target *IndexNotFoundError
	return errors.As(err, &target)
}

// IsQueryError reports whether err is (or wraps) a QueryError.
func IsQueryError(err error) bool {
	var target *QueryError
	return errors.As(err, &target)
}
