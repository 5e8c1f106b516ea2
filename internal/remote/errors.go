package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ingest failures. Only network, server and rate-limit
// errors feed the retry loop and the circuit breaker; auth failures are
// surfaced immediately instead of being retried forever.
type ErrorKind string

const (
	ErrorNetwork   ErrorKind = "network"
	ErrorAuth      ErrorKind = "auth"
	ErrorServer    ErrorKind = "server"
	ErrorRateLimit ErrorKind = "rate_limit"
	ErrorRejected  ErrorKind = "rejected" // validation failure; retrying the same bytes cannot help
)

// Error is a classified ingest failure.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status, 0 for transport errors
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ingest %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("ingest %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the failure may succeed on a later attempt.
func (e *Error) Retriable() bool { return e.Kind != ErrorAuth && e.Kind != ErrorRejected }

// Retriable reports whether err is an ingest failure worth retrying.
// Unclassified errors are treated as retriable network failures.
func Retriable(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Retriable()
	}
	return err != nil
}

// KindOf returns the classification of err, defaulting to network for
// unclassified failures.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ErrorNetwork
}
