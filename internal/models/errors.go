package models

import "errors"

// Sentinel errors for the orchestration core. Callers match with errors.Is;
// sites wrap with fmt.Errorf("%w: ...") to attach context.
var (
	// ErrInvalidSpec rejects a malformed creation request. No job is created.
	ErrInvalidSpec = errors.New("invalid job spec")

	// ErrIllegalTransition indicates a status move that violates the
	// monotonic lifecycle. This is a consistency bug, never silently dropped.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrJobNotFound is returned when a job ID resolves to nothing.
	ErrJobNotFound = errors.New("job not found")

	// ErrDispatchFailed marks an execution-engine dispatch transport error.
	ErrDispatchFailed = errors.New("dispatch to execution engine failed")

	// ErrCancelAckTimeout records that a remote cancellation was never
	// acknowledged and local state was forced to cancelled.
	ErrCancelAckTimeout = errors.New("cancel acknowledgment timed out")
)
