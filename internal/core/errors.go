package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task id is unknown or past its retention TTL.
var ErrNotFound = errors.New("task not found")

// ErrUnavailable is returned when the broker or result store cannot be
// reached. No task record is created in that case; the caller is expected to
// re-submit, which is safe because id derivation is deterministic.
var ErrUnavailable = errors.New("system unavailable")

// ErrorKind classifies a collaborator failure.
type ErrorKind string

const (
	ErrorTimeout     ErrorKind = "timeout"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorInvalid     ErrorKind = "invalid"
	ErrorUnavailable ErrorKind = "unavailable"
)

// ClassifiedError is a collaborator failure tagged with a kind that decides
// the retry policy: invalid input is permanent, everything else is transient.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the worker may schedule another attempt.
func (e *ClassifiedError) Retryable() bool {
	return e.Kind != ErrorInvalid
}

// FailureKind records why a task reached the failed-terminal state.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// TaskError is the error payload persisted on a failed-terminal task.
type TaskError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}
