package orchestrator

import (
	"context"
	"fmt"

	"github.com/ternarybob/runbook/internal/interfaces"
	"github.com/ternarybob/runbook/internal/models"
)

// OnTerminal handles the engine's terminal verdict for a leaf job. Delivery
// is at-least-once: a callback for an already-terminal job is acknowledged
// and otherwise ignored. A batch never receives a terminal verdict of its
// own; it only finishes through aggregation of its children.
func (s *Service) OnTerminal(ctx context.Context, jobID string, outcome interfaces.TerminalOutcome) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsBatch() {
		return fmt.Errorf("%w: terminal callback for batch job %s", models.ErrIllegalTransition, jobID)
	}

	if job.Status.IsTerminal() {
		s.ackCancel(jobID)
		return nil
	}

	status := models.JobStatusFailed
	errorMsg := outcome.ErrorMessage
	switch {
	case outcome.Success:
		// A job that finished its work before cancellation took effect
		// keeps its honest result.
		status = models.JobStatusSuccess
		errorMsg = ""
	case job.CancelRequested:
		// Cancellation is decided locally: an unsuccessful end after a
		// cancel request reads as cancelled, not failed.
		status = models.JobStatusCancelled
	}

	if _, err := s.jobs.Transition(ctx, jobID, status, errorMsg); err != nil {
		return err
	}
	s.ackCancel(jobID)

	s.logger.Debug().
		Str("job_id", jobID).
		Str("status", string(status)).
		Msg("Terminal callback applied")

	if job.IsChild() {
		return s.onChildTerminal(ctx, job.GetParentID())
	}
	return nil
}

// onChildTerminal runs the batch reaction to one child finishing: settle
// policy and aggregation first, then admit the next pending children.
func (s *Service) onChildTerminal(ctx context.Context, batchID string) error {
	lock := s.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := s.jobs.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return nil
	}

	children, err := s.jobs.ListChildren(ctx, batchID)
	if err != nil {
		return err
	}
	if err := s.settleLocked(ctx, batch, children); err != nil {
		return err
	}

	return s.admitLocked(ctx, batchID)
}

// OnOutputLine appends one captured output line to the job's ordered log.
// Output lines belong to leaves; batch logs are read by merging children,
// so a line addressed to a batch ID is rejected rather than stored where no
// reader would find it. Log capture is otherwise best effort: a storage
// failure is logged and swallowed so it can never affect job state.
func (s *Service) OnOutputLine(ctx context.Context, jobID, content, level string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsBatch() {
		return fmt.Errorf("%w: output line addressed to batch job %s", models.ErrInvalidSpec, jobID)
	}
	if err := s.logs.Append(ctx, jobID, content, level); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append output line")
	}
	return nil
}
