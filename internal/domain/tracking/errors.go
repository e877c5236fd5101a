package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("invalid job input")

	// ErrAuth is returned when a submission carries no owner.
	ErrAuth = errors.New("missing job owner")

	// ErrTransientRead marks a failed or timed out read of a job record.
	ErrTransientRead = errors.New("transient job read failure")

	// ErrJobNotFound is returned by stores when no record exists for an id.
	ErrJobNotFound = errors.New("job not found")

	// ErrStalled marks a job the worker stopped reporting on.
	ErrStalled = errors.New("job stalled")

	// ErrRemoteJob marks a failure reported by the worker itself.
	ErrRemoteJob = errors.New("remote job failed")

	// ErrDuplicateJob is returned when inserting a record whose id already exists.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrJobInProgress is returned when submitting while a job is still processing.
	ErrJobInProgress = errors.New("a job is already processing")

	// ErrNoJob is returned by operations that need a previously submitted job.
	ErrNoJob = errors.New("no job has been submitted")

	// ErrJobFinished is returned by FailJob when the stored record already
	// reached a terminal status.
	ErrJobFinished = errors.New("job already finished")

	// ErrCancelled marks a job its owner cancelled.
	ErrCancelled = errors.New("job cancelled")
)

// FailureReason names the category of a terminal failure for event consumers.
func FailureReason(cause error) string {
	switch {
	case cause == nil:
		return ""
	case errors.Is(cause, ErrRemoteJob):
		return "remote"
	case errors.Is(cause, ErrStalled):
		return "stalled"
	case errors.Is(cause, ErrTransientRead):
		return "network"
	case errors.Is(cause, ErrJobNotFound):
		return "not_found"
	case errors.Is(cause, ErrCancelled):
		return "cancelled"
	default:
		return "unknown"
	}
}

// ValidationError describes which part of a submission was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job input: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }
