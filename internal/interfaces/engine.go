package interfaces

import (
	"context"

	"github.com/ternarybob/runbook/internal/models"
)

// TerminalOutcome is the execution engine's terminal verdict for one job.
// Cancellation is not an engine outcome; it is decided locally by the
// cancellation coordinator.
type TerminalOutcome struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ExecutionEngine is the external collaborator that runs a playbook against
// one target host. Dispatch is asynchronous: the terminal result arrives
// later through the ExecutionCallback. Injected explicitly so the
// orchestrator is testable with a fake engine.
type ExecutionEngine interface {
	// Dispatch starts execution of a leaf job and returns the engine's
	// task handle. A transport error means the job never started.
	Dispatch(ctx context.Context, job *models.Job) (externalRef string, err error)

	// RequestCancel asks the engine to stop the referenced task.
	// The request can fail if the remote process already exited.
	RequestCancel(ctx context.Context, externalRef string) error
}

// ExecutionCallback receives the engine's asynchronous notifications.
// Implemented by the batch orchestrator; delivery is at-least-once, so both
// methods must tolerate duplicates.
type ExecutionCallback interface {
	// OnTerminal reports a job's terminal outcome. Duplicate deliveries
	// for the same job are ignored after the first.
	OnTerminal(ctx context.Context, jobID string, outcome TerminalOutcome) error

	// OnOutputLine appends one captured output line to the job's log.
	// Failures here never affect job status.
	OnOutputLine(ctx context.Context, jobID, content, level string) error
}
